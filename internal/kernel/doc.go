// Package kernel provides the client side of the kernel wire protocol.
//
// A kernel is a language runtime subprocess speaking line-delimited JSON:
// requests go in on stdin, messages come out on stdout tagged with a
// channel (shell, iopub, stdin, system), and stderr is kept as a bounded
// diagnostic tail. Replies correlate to requests by id, so concurrent
// requests share the pipe without queuing behind each other.
//
// Lifecycle:
//   - Launch spawns the subprocess in its own process group and blocks
//     until the system/ready message, process death, or the startup
//     deadline. Failure paths never leak the subprocess.
//   - Every stdout message is forwarded on the event channel; shell
//     replies additionally resolve their pending request.
//   - Interrupt is SIGINT to the process group, Kill is SIGKILL.
//   - After the process is reaped the connector emits EventClose and
//     closes the event channel. Consumers must drain until then.
//
// Cancellation abandons a pending request without touching the kernel;
// the in-flight work keeps running and its events still stream.
//
// Example Usage:
//
//	client, err := kernel.Launch(ctx, types.LaunchOptions{Cmd: "python3", Args: []string{"-m", "rodeo_kernel"}}, cfg, logger)
//	result, err := client.Execute(ctx, "1 + 1", false)
//	for ev := range client.Events() { ... }
package kernel
