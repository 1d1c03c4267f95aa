// Package command parses chat commands into stream operations.
package command

import (
	"errors"
	"strconv"
	"strings"

	"github.com/cwygoda/streamrelay/internal/domain"
)

// Kind identifies a chat command.
type Kind int

const (
	Unknown Kind = iota
	Ping
	Stream
	Stop
)

const StreamUsage = "Usage: !stream <RTMPS_URL> <STREAM_KEY> <VIDEO_PATH_OR_URL> [REPEAT_COUNT]"

// ErrUsage is returned for a malformed !stream command. Its text is the
// usage line shown to the user.
var ErrUsage = errors.New(StreamUsage)

// Command is a parsed chat message.
type Command struct {
	Kind Kind
	// Stream holds the !stream arguments.
	Stream domain.StreamJobParams
	// JobID is the optional !stop target.
	JobID string
}

// Parse parses a chat message body. Messages that are not commands parse
// as Unknown without error.
func Parse(body string) (Command, error) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return Command{Kind: Unknown}, nil
	}

	switch fields[0] {
	case "!ping":
		return Command{Kind: Ping}, nil
	case "!stop":
		cmd := Command{Kind: Stop}
		if len(fields) > 1 {
			cmd.JobID = fields[1]
		}
		return cmd, nil
	case "!stream":
		return parseStream(fields[1:])
	}
	return Command{Kind: Unknown}, nil
}

func parseStream(args []string) (Command, error) {
	if len(args) < 3 {
		return Command{}, ErrUsage
	}
	p := domain.StreamJobParams{
		DestinationURL: args[0],
		StreamKey:      args[1],
		SourcePath:     args[2],
		RepeatCount:    1,
	}
	if len(args) > 3 {
		n, err := strconv.Atoi(args[3])
		if err != nil || n < 1 {
			return Command{}, ErrUsage
		}
		p.RepeatCount = n
	}
	return Command{Kind: Stream, Stream: p}, nil
}
