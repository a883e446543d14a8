// handsynthctl publishes hand frames and instrument commands onto the bus,
// standing in for a detector or a controller during development.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/handsfree-audio/handsynth/internal/protocol"
)

var version = "0.1.0-dev"

const usage = "expected 'frame', 'note', 'program', 'scale' or 'version'"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "frame":
		runCommand(newFrameCmd())
	case "note":
		runCommand(newNoteCmd())
	case "program":
		runCommand(newProgramCmd())
	case "scale":
		runCommand(newScaleCmd())
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
}

// command parses its flags and returns the subject and payload to publish.
type command struct {
	flags   *flag.FlagSet
	server  *string
	payload func() (string, any, error)
}

func newCommand(name string) *command {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &command{
		flags:  fs,
		server: fs.String("server", nats.DefaultURL, "NATS server URL"),
	}
}

func runCommand(c *command) {
	c.flags.Parse(os.Args[2:])

	subject, msg, err := c.payload()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := publish(*c.server, subject, msg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("published to %s\n", subject)
}

func newFrameCmd() *command {
	c := newCommand("frame")
	var (
		detected = c.flags.Bool("detected", true, "Hand detected in the frame")
		fingers  = c.flags.Int("fingers", 0, "Extended finger count")
		x        = c.flags.Float64("x", 0.5, "Normalized horizontal hand position")
		y        = c.flags.Float64("y", 0.5, "Normalized vertical hand position")
		session  = c.flags.String("session", "", "Detector session id")
	)
	c.payload = func() (string, any, error) {
		return protocol.SubjectHandFrame, protocol.HandFrame{
			SessionID:   *session,
			Detected:    *detected,
			FingerCount: *fingers,
			X:           *x,
			Y:           *y,
			Timestamp:   time.Now().UTC(),
		}, nil
	}
	return c
}

func newNoteCmd() *command {
	c := newCommand("note")
	var (
		pitch  = c.flags.Int("pitch", 60, "MIDI pitch to play")
		action = c.flags.String("action", protocol.ActionStart, "start or stop")
	)
	c.payload = func() (string, any, error) {
		if *action != protocol.ActionStart && *action != protocol.ActionStop {
			return "", nil, fmt.Errorf("action must be %q or %q", protocol.ActionStart, protocol.ActionStop)
		}
		return protocol.SubjectNote, protocol.NoteCommand{
			Pitch:     *pitch,
			Action:    *action,
			Timestamp: time.Now().UTC(),
		}, nil
	}
	return c
}

func newProgramCmd() *command {
	c := newCommand("program")
	program := c.flags.Int("program", 1, "General MIDI program number")
	c.payload = func() (string, any, error) {
		return protocol.SubjectProgram, protocol.ProgramSelect{
			Program:   *program,
			Timestamp: time.Now().UTC(),
		}, nil
	}
	return c
}

func newScaleCmd() *command {
	c := newCommand("scale")
	var (
		root  = c.flags.Int("root", 60, "Root pitch of the scale")
		scale = c.flags.String("scale", "major", "Scale type; anything but major plays minor")
	)
	c.payload = func() (string, any, error) {
		return protocol.SubjectScale, protocol.ScaleRequest{
			Root:      *root,
			Scale:     *scale,
			Timestamp: time.Now().UTC(),
		}, nil
	}
	return c
}

func publish(server, subject string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	nc, err := nats.Connect(server, nats.Name("handsynthctl"), nats.Timeout(2*time.Second))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", server, err)
	}
	defer nc.Close()

	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nc.Flush()
}
