package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	anscheduler "github.com/anscheduler/anscheduler"
	"github.com/anscheduler/anscheduler/internal/logging"
	"github.com/anscheduler/anscheduler/internal/mockplatform"
)

func main() {
	var (
		numCPU   = flag.Int("cpus", 2, "Number of dispatcher goroutines")
		quantum  = flag.Duration("quantum", anscheduler.DefaultQuantum, "Scheduling quantum")
		verbose  = flag.Bool("v", false, "Verbose output")
		runFor   = flag.Duration("for", 0, "Stop automatically after this long (0 = run until signaled)")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	platform := mockplatform.New(
		mockplatform.WithNumCPU(*numCPU),
		mockplatform.WithQuantum(*quantum),
	)
	kernel := anscheduler.NewKernel(platform, anscheduler.WithLogger(logger))

	pingTask, pongTask, err := spawnPingPong(kernel, logger)
	if err != nil {
		logger.Error("failed to spawn demo tasks", "error", err)
		os.Exit(1)
	}
	_ = pingTask
	_ = pongTask

	logger.Info("kernel starting", "cpus", *numCPU, "quantum", quantum.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		kernel.Run(ctx)
		close(runDone)
	}()

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *runFor > 0 {
		select {
		case <-time.After(*runFor):
		case <-sigCh:
		}
	} else {
		<-sigCh
	}

	logger.Info("stopping kernel")
	cancel()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		logger.Warn("kernel did not stop within timeout, exiting anyway")
	}

	snap := kernel.Metrics.Snapshot()
	fmt.Printf("dispatches=%d timer_ticks=%d kill_jobs=%d page_faults=%d\n",
		snap.DispatchCount, snap.TimerTicks, snap.KillJobs, snap.PageFaults)
	fmt.Printf("messages_sent=%d backpressure_drops=%d sockets_created=%d sockets_destroyed=%d\n",
		snap.MessagesSent, snap.BackpressureDrops, snap.SocketsCreated, snap.SocketsDestroyed)
	fmt.Printf("avg_queue_depth=%.2f max_queue_depth=%d avg_latency_ns=%d\n",
		snap.AvgQueueDepth, snap.MaxQueueDepth, snap.AvgLatencyNs)
}

// spawnPingPong creates two tasks connected by a socket and gives each
// one thread: ping sends a handful of messages and pong reads them,
// both halting between rounds before exiting, exercising task creation, thread scheduling, and socket IPC
// together in one runnable demo.
func spawnPingPong(kernel *anscheduler.Kernel, logger *logging.Logger) (*anscheduler.Task, *anscheduler.Task, error) {
	code := []byte{0} // a single code page is enough for this demo

	ping, err := kernel.CreateTask(code)
	if err != nil {
		return nil, nil, err
	}
	pong, err := kernel.CreateTask(code)
	if err != nil {
		return nil, nil, err
	}

	pingSock, err := anscheduler.NewSocket(ping)
	if err != nil {
		return nil, nil, err
	}
	if _, err := anscheduler.Connect(pingSock, pong); err != nil {
		return nil, nil, err
	}

	const rounds = 5

	pingThread, err := anscheduler.CreateThread(ping, func(y *anscheduler.Yielder) {
		for i := 0; i < rounds; i++ {
			msg, err := anscheduler.NewDataMessage([]byte(fmt.Sprintf("ping %d", i)))
			if err != nil {
				logger.Error("ping: build message failed", "error", err)
				return
			}
			anscheduler.Msg(pingSock, msg)
			y.Halt()
		}
	})
	if err != nil {
		return nil, nil, err
	}
	anscheduler.AddThread(ping, pingThread)

	pongThread, err := anscheduler.CreateThread(pong, func(y *anscheduler.Yielder) {
		sock, ok := anscheduler.SocketForDescriptor(pong, 0)
		if !ok {
			y.Halt()
			return
		}
		defer anscheduler.DereferenceSocket(sock)

		for i := 0; i < rounds; i++ {
			if msg, ok := anscheduler.Read(sock); ok {
				logger.Debug("pong: received", "payload", string(msg.Payload))
				anscheduler.ReleaseMessage(msg)
			}
			y.Halt()
		}
	})
	if err != nil {
		return nil, nil, err
	}
	anscheduler.AddThread(pong, pongThread)

	return ping, pong, nil
}
