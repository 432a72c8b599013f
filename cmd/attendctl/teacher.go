package main

import (
	"context"
	"io"
	"time"

	"liveattend/internal/logging"
	"liveattend/internal/teacher"
)

func runTeacher(ctx context.Context, coord teacher.Coordinator, id string, log logging.Logger, out *console, in io.Reader) error {
	ctrl := teacher.New(coord, id, log, func(v teacher.View) { renderTeacher(out, v) })
	defer ctrl.Close()

	s, err := ctrl.Resume(ctx)
	if err != nil {
		out.printf("could not check for an active session: %v\n", err)
	} else if s != nil {
		out.printf("resumed session %s started %s\n", s.ID, s.StartedAt.Local().Format(time.Kitchen))
	}
	out.printf("commands: start | stop | status | quit\n")

	input := lines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-input:
			if !ok {
				return nil
			}
			switch line {
			case "start":
				s, err := ctrl.Start(ctx)
				if err != nil {
					out.printf("start failed: %v\n", err)
					continue
				}
				out.printf("session %s is live\n", s.ID)
			case "stop":
				cur := ctrl.Current()
				if err := ctrl.Stop(ctx); err != nil {
					out.printf("stop failed: %v\n", err)
					continue
				}
				if cur != nil {
					out.printf("session %s stopped\n", cur.ID)
				}
			case "status":
				renderTeacher(out, ctrl.View())
			case "quit", "exit":
				return nil
			case "":
			default:
				out.printf("unknown command %q\n", line)
			}
		}
	}
}

func renderTeacher(out *console, v teacher.View) {
	if v.Session == nil {
		out.printf("[stopped] no active session\n")
		return
	}
	status := "live"
	if v.Degraded {
		status = "live, reconnecting"
	}
	out.printf("[%s] session %s: %d present\n", status, v.Session.ID, len(v.Roster))
	for _, r := range v.Roster {
		out.printf("  %-24s %s\n", r.StudentName, r.MarkedAt.Local().Format(time.Kitchen))
	}
}
