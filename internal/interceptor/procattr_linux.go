package interceptor

import "syscall"

// sysProcAttr puts the child in its own process group so forwarded signals
// reach everything it spawns. Pdeathsig makes the kernel SIGTERM the child
// if the interceptor dies without forwarding. The child's group is not the
// terminal's foreground group, so an interactive prompt from a shell-run
// interceptor stops on SIGTTIN.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
