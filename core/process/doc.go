// Package process bundles what one process needs to work with shared state:
// a channel to the facility, the subscription registry on top of it and a
// ledger of the stamps this process has observed.
//
// A Process is an explicit value. Create one at startup and pass it to the
// code that reads, writes or watches states:
//
//	p, err := process.New(process.Config{Channel: memory.New()})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	h, err := p.CreateTemporary(ctx)
//	stamp, err := p.Write(ctx, h, []byte("ready"))
//
//	sub, err := p.Subscribe(ctx, h, notify.ListenerFunc(func(d *notify.Delivery) error {
//	    d.Log().Info("changed", d.Stamp().SlogAttr())
//	    return nil
//	}))
//
// # Ownership
//
// Handles returned by Create carry the ownership derived from the create
// options. Well-known handles (Open, CreateWellKnown) cannot be deleted
// through a Process. States created with state.ScopeProcess are
// process-local and are deleted by Close unless Config.KeepProcessLocal is
// set.
package process
