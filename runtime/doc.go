// Package runtime loads function artifacts and runs their guests.
//
// A Runtime is created from a Config naming the artifact, the context type
// T and the extensions to bind. New verifies the artifact, checks that every
// referenced extension is bound and implements what the artifact expects,
// compiles the guest and resolves its imports:
//
//	cfg := runtime.NewConfig(func() *Greeting { return &Greeting{} }).
//		WithFunction(fn).
//		WithExtension(ext).
//		WithTimeout(time.Second)
//	rt, err := runtime.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer rt.Close(ctx)
//
//	sig := &Greeting{}
//	if err := rt.Run(ctx, sig); err != nil {
//		return err
//	}
//
// Each Instance has its own guest memory and its own extension bridges. A
// run moves an instance from Ready through Running to Completed or Failed.
// Instances of stateless functions return to Ready and may run again; other
// instances run once. A failed run releases every extension handle and
// closes the guest.
package runtime
