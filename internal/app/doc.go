// Package app builds the downloader's object graph from settings.
//
// New opens the task store and the registry, builds the HTTP clients, and
// wires the executor and the service on top of them. Every component gets
// its own logger tagged with a "component" attribute.
//
// # Basic Usage
//
//	live, err := config.NewLive(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	a, err := app.New(live, os.Stderr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer a.Close()
//	go a.Run(ctx)
//
// # Reload
//
// A reload of the settings file switches the registry backend in place when
// RegistryBackend changes. Other settings are read by each component when it
// next needs them.
package app
