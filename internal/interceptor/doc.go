// Package interceptor stands in for the duplicacy CLI.
//
// The management application runs what it believes is duplicacy; the
// binary it finds in its bin directory is a symlink to dupwrap-shim,
// which uses this package to:
//
//  1. parse the duplicacy global options and the -comment option keys
//     (log_at_start, log_verbose, healthchecks=<url>);
//  2. exec the real binary directly for commands that are not reported
//     on (list, info, password, ...);
//  3. otherwise run the real binary as a child in its own process group,
//     forwarding SIGINT/SIGTERM/SIGHUP to it, while two reader goroutines
//     echo stdout and stderr unchanged and classify each line;
//  4. send exactly one summary notification and an optional health ping,
//     then exit with the child's exit code.
//
// Notifications and pings are side channels. Nothing they do changes
// what the caller sees on stdout/stderr or the exit status.
//
// Example:
//
//	inv := interceptor.ParseArgs(os.Args[1:])
//	r := &interceptor.Runner{
//		Binary:     realBinary,
//		Invocation: inv,
//		Notifier:   notifier,
//		Pinger:     health.NewHTTPPinger(10*time.Second, 5),
//		Stdin:      os.Stdin,
//		Stdout:     os.Stdout,
//		Stderr:     os.Stderr,
//		Logger:     logger,
//	}
//	code, err := r.Run(ctx)
package interceptor
