package main

import (
	"context"
	"io"
	"sync"

	"liveattend/internal/app"
	"liveattend/internal/config"
	"liveattend/internal/logging"
	"liveattend/internal/student"
	"liveattend/internal/verify"
)

func runStudent(ctx context.Context, cfg config.App, coord student.Coordinator, image string, log logging.Logger, out *console, in io.Reader) error {
	var gate *verify.Gate
	if image == "" {
		gate = verify.NewGate(verify.NullDevice{}, verify.NewSimulated(func(p verify.Phase) {
			out.printf("  verification: %s\n", p)
		}), log)
	} else {
		face := app.NewFaceClient(cfg)
		if err := face.Health(ctx); err != nil {
			out.printf("warning: face service not available: %v\n", err)
		}
		gate = verify.NewGate(&verify.StaticDevice{Path: image}, app.NewFaceMethod(cfg, face), log)
	}

	var (
		mu   sync.Mutex
		last student.State
	)
	flow := student.New(coord, gate, student.Options{
		NoticeTTL: cfg.NoticeTTL,
		Logger:    log,
		OnChange: func(s student.State) {
			mu.Lock()
			defer mu.Unlock()
			renderStudent(out, last, s)
			last = s
		},
	})
	defer flow.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		flow.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	out.printf("type your name and press enter to mark attendance\n")
	input := lines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-input:
			if !ok {
				return nil
			}
			flow.SetName(line)
			_, _ = flow.Submit(ctx)
		}
	}
}

func renderStudent(out *console, prev, cur student.State) {
	switch {
	case prev.Session == nil && cur.Session != nil,
		prev.Session != nil && cur.Session != nil && prev.Session.ID != cur.Session.ID:
		out.printf("attendance is live (session %s)\n", cur.Session.ID)
	case prev.Session != nil && cur.Session == nil:
		out.printf("attendance not active\n")
	}
	if cur.Degraded && !prev.Degraded {
		out.printf("connection lost, reconnecting...\n")
	}
	if cur.Notice != nil && (prev.Notice == nil || prev.Notice.Message != cur.Notice.Message || prev.Notice.Kind != cur.Notice.Kind) {
		out.printf("%s %s\n", noticeMark(cur.Notice.Kind), cur.Notice.Message)
	}
}

func noticeMark(k student.NoticeKind) string {
	if k == student.NoticeSuccess {
		return "[ok]"
	}
	return "[!!]"
}
