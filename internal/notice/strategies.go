package notice

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/k811069/Bunny-serve-sub001/pkg/provider/tts"
)

// TTSStrategy synthesizes the notice through a speech-synthesis provider.
// The provider emits encoded audio in its native format; when that format
// differs from the requested output extension the clip is written to a
// sibling path carrying the native extension, and the Result reports the
// format actually produced.
type TTSStrategy struct {
	Provider tts.Provider
	Params   tts.VoiceParams

	// Format is the provider's native output format. Defaults to "mp3".
	Format string
}

var _ Strategy = (*TTSStrategy)(nil)

// Name implements [Strategy].
func (s *TTSStrategy) Name() string { return "tts" }

// Attempt implements [Strategy].
func (s *TTSStrategy) Attempt(ctx context.Context, message, outputPath string) (Result, error) {
	if s.Provider == nil {
		return Result{}, fmt.Errorf("no synthesis provider configured")
	}
	format := s.Format
	if format == "" {
		format = "mp3"
	}
	path := outputPath
	if formatOf(outputPath) != format {
		path = withExt(outputPath, format)
	}

	chunks, err := s.Provider.Synthesize(ctx, message, s.Params)
	if err != nil {
		return Result{}, fmt.Errorf("synthesize: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return Result{}, fmt.Errorf("create %s: %w", path, err)
	}
	var written int
	for chunk := range chunks {
		n, werr := f.Write(chunk)
		written += n
		if werr != nil {
			f.Close()
			os.Remove(path)
			return Result{}, fmt.Errorf("write %s: %w", path, werr)
		}
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("close %s: %w", path, err)
	}
	if written == 0 {
		os.Remove(path)
		return Result{}, fmt.Errorf("provider produced no audio")
	}
	return Result{Path: path, Format: format}, nil
}

// CommandStrategy shells out to an external synthesis tool. The command is
// given the message and output path through argument templates; a missing
// binary is an ordinary strategy failure, never fatal to the chain.
type CommandStrategy struct {
	// Binary is the tool to run (e.g. "espeak-ng").
	Binary string

	// Args are the arguments passed to Binary. Occurrences of {message} and
	// {output} are replaced with the notice text and the output path.
	Args []string

	// Timeout bounds one invocation. Defaults to 15s.
	Timeout time.Duration
}

var _ Strategy = (*CommandStrategy)(nil)

// Name implements [Strategy].
func (s *CommandStrategy) Name() string { return "command:" + s.Binary }

// Attempt implements [Strategy].
func (s *CommandStrategy) Attempt(ctx context.Context, message, outputPath string) (Result, error) {
	if _, err := exec.LookPath(s.Binary); err != nil {
		return Result{}, fmt.Errorf("%s not available: %w", s.Binary, err)
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		switch a {
		case "{message}":
			args[i] = message
		case "{output}":
			args[i] = outputPath
		default:
			args[i] = a
		}
	}
	if out, err := exec.CommandContext(ctx, s.Binary, args...).CombinedOutput(); err != nil {
		return Result{}, fmt.Errorf("%s: %w (output: %s)", s.Binary, err, out)
	}
	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return Result{}, fmt.Errorf("%s reported success but produced no file", s.Binary)
	}
	return Result{Path: outputPath, Format: formatOf(outputPath)}, nil
}

// SilentClipStrategy writes a fixed-duration silent WAV clip. It is the
// terminal strategy: it performs no network or subprocess work, so it
// succeeds whenever the output directory is writable.
type SilentClipStrategy struct {
	// Duration of the silent clip. Defaults to 1s.
	Duration time.Duration

	// SampleRate of the generated clip. Defaults to 16000.
	SampleRate int
}

var _ Strategy = (*SilentClipStrategy)(nil)

// Name implements [Strategy].
func (s *SilentClipStrategy) Name() string { return "silent-clip" }

// Attempt implements [Strategy]. The message is ignored; the clip is pure
// silence. The file is always written as WAV regardless of the requested
// extension, with the Result reporting the actual format.
func (s *SilentClipStrategy) Attempt(_ context.Context, _ string, outputPath string) (Result, error) {
	duration := s.Duration
	if duration <= 0 {
		duration = time.Second
	}
	rate := s.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	path := outputPath
	if formatOf(outputPath) != "wav" {
		path = withExt(outputPath, "wav")
	}

	samples := int(duration.Seconds() * float64(rate))
	if err := writeSilentWAV(path, rate, samples); err != nil {
		return Result{}, err
	}
	return Result{Path: path, Format: "wav"}, nil
}

// writeSilentWAV writes a 16-bit mono PCM WAV containing n zero samples.
func writeSilentWAV(path string, sampleRate, n int) error {
	dataLen := n * 2
	buf := make([]byte, 44+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	// Sample bytes are already zero.
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write silent clip %s: %w", path, err)
	}
	return nil
}
