// Command attendctl runs the teacher or student attendance flow against a
// liveattend server.
//
//	attendctl [-server URL] teacher
//	attendctl [-server URL] [-image face.jpg] student
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"liveattend/internal/app"
	"liveattend/internal/auth"
	"liveattend/internal/client"
	"liveattend/internal/config"
)

func main() {
	cfg := config.Load()

	fs := flag.NewFlagSet("attendctl", flag.ExitOnError)
	server := fs.String("server", cfg.ServerURL, "liveattend server URL")
	clientID := fs.String("id", "", "client id to register with (default: assigned by the server)")
	image := fs.String("image", "", "student: verify this image with the face service instead of the simulated check")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: attendctl [flags] teacher|student\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}
	mode := fs.Arg(0)
	if !auth.ValidRole(mode) {
		fs.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, flush := app.NewLogger(cfg, "attendctl")
	defer flush()

	c := client.New(*server)
	id, err := c.Register(ctx, *clientID, mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "register with %s: %v\n", *server, err)
		os.Exit(1)
	}
	out := newConsole(os.Stdout)
	out.printf("registered as %s (%s)\n", id, mode)

	switch mode {
	case auth.RoleTeacher:
		err = runTeacher(ctx, c, id, logger, out, os.Stdin)
	case auth.RoleStudent:
		err = runStudent(ctx, cfg, c, *image, logger, out, os.Stdin)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
