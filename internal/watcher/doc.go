// Package watcher keeps the duplicacy interceptor installed across CLI
// upgrades.
//
// The Duplicacy management application downloads CLI binaries named
// <product>_<platform>_<arch>_<major>.<minor>.<patch> into its bin
// directory. The Watcher observes that directory with fsnotify and, on every
// change, makes sure the newest version is wrapped: its bin dir entry is a
// symlink to dupwrap-shim and the real binary sits in the storage directory.
//
// Key features:
//   - Event driven (fsnotify), one reconcile per burst of events
//   - Adopts a topology wrapped by an earlier run
//   - Waits for the bin dir to appear; exits if it vanishes for good
//   - On SIGTERM/SIGINT/SIGHUP, unwraps and points the host link back at
//     the newest real binary before exiting
//   - Daemon mode support with PID file management
//
// Example usage:
//
//	topo := linkstate.New(cfg.Paths.BinDir, cfg.Paths.StorageDir, cfg.Paths.HostLink, cfg.Paths.Shim)
//	w, err := watcher.New(watcher.Options{
//		BinDir:      cfg.Paths.BinDir,
//		Product:     cfg.Product,
//		VanishGrace: cfg.VanishGrace(),
//	}, topo, notifier, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Run in the foreground until ctx is cancelled
//	if err := w.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	// Or start as daemon
//	if err := watcher.StartDaemon("/root/.dupwrap/watch.pid", "/root/.dupwrap/watch.log"); err != nil {
//		log.Fatal(err)
//	}
package watcher
