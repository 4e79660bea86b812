package videoio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const maxStderrBytes = 8 * 1024

// FFmpeg is the Backend backed by the ffmpeg and ffprobe executables.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger
}

// NewFFmpeg locates ffmpeg and ffprobe on PATH.
func NewFFmpeg(logger *slog.Logger) (*FFmpeg, error) {
	ff, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found on PATH: %w", err)
	}
	fp, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found on PATH: %w", err)
	}
	return &FFmpeg{ffmpeg: ff, ffprobe: fp, logger: logger}, nil
}

type probeOutput struct {
	Streams []struct {
		CodecName     string `json:"codec_name"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
		Duration      string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads stream metadata. When the container carries no frame count
// the packets are counted, which reads the whole file.
func (f *FFmpeg) Probe(ctx context.Context, path string) (Info, error) {
	out, err := f.runProbe(ctx, path, "stream=codec_name,width,height,r_frame_rate,avg_frame_rate,nb_frames,duration:format=duration")
	if err != nil {
		return Info{}, err
	}
	info, err := parseStreamInfo(out)
	if err != nil {
		return Info{}, fmt.Errorf("probe %s: %w", filepath.Base(path), err)
	}

	if info.NumFrames == 0 {
		counted, err := f.runProbe(ctx, path, "stream=nb_read_packets", "-count_packets")
		if err == nil {
			if c, err := parseStreamInfo(counted); err == nil {
				info.NumFrames = c.NumFrames
			}
		}
	}
	return info, nil
}

func (f *FFmpeg) runProbe(ctx context.Context, path, entries string, extra ...string) ([]byte, error) {
	args := []string{"-v", "error", "-select_streams", "v:0"}
	args = append(args, extra...)
	args = append(args, "-show_entries", entries, "-of", "json", path)

	cmd := exec.CommandContext(ctx, f.ffprobe, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &tailWriter{w: &stderr, limit: maxStderrBytes}
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w: %s", filepath.Base(path), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func parseStreamInfo(data []byte) (Info, error) {
	var res probeOutput
	if err := json.Unmarshal(data, &res); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe json: %w", err)
	}
	if len(res.Streams) == 0 {
		return Info{}, errors.New("no video stream")
	}
	s := res.Streams[0]

	info := Info{
		Width:  s.Width,
		Height: s.Height,
		Codec:  s.CodecName,
		FPS:    parseRate(s.AvgFrameRate),
	}
	if info.FPS <= 0 {
		info.FPS = parseRate(s.RFrameRate)
	}
	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		info.NumFrames = n
	} else if n, err := strconv.Atoi(s.NbReadPackets); err == nil && n > 0 {
		info.NumFrames = n
	}
	if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
		info.Duration = d
	} else if d, err := strconv.ParseFloat(res.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	return info, nil
}

// parseRate turns "30000/1001" or "25" into frames per second.
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// OpenReader starts a decoder emitting raw RGBA frames of info's size.
func (f *FFmpeg) OpenReader(ctx context.Context, path string, info Info) (FrameReader, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("open reader %s: unknown frame size", filepath.Base(path))
	}

	cmd := exec.CommandContext(ctx, f.ffmpeg,
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", path,
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-",
	)
	stderr := &bytes.Buffer{}
	cmd.Stderr = &tailWriter{w: stderr, limit: maxStderrBytes}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start decoder: %w", err)
	}

	return &decoder{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		frame:  image.NewRGBA(image.Rect(0, 0, info.Width, info.Height)),
	}, nil
}

type decoder struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	frame  *image.RGBA
	done   bool
	err    error
}

func (d *decoder) Next() (*image.RGBA, error) {
	if d.done {
		return nil, d.err
	}
	if _, err := io.ReadFull(d.stdout, d.frame.Pix); err != nil {
		d.done = true
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			d.err = fmt.Errorf("read frame: %w", err)
			return nil, d.err
		}
		// The decoder closed its output; a non-zero exit means the stream
		// broke rather than ended.
		if werr := d.cmd.Wait(); werr != nil {
			d.err = fmt.Errorf("decoder exited: %w: %s", werr, strings.TrimSpace(d.stderr.String()))
			return nil, d.err
		}
		d.err = io.EOF
		return nil, io.EOF
	}
	return d.frame, nil
}

func (d *decoder) Close() error {
	if d.done {
		return nil
	}
	d.done = true
	d.err = io.EOF
	d.stdout.Close()
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
	return nil
}

// OpenWriter starts an encoder reading raw RGBA frames on stdin. The codec
// follows the extension of path.
func (f *FFmpeg) OpenWriter(ctx context.Context, path string, opts WriterOptions) (FrameWriter, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("open writer %s: invalid size %dx%d", filepath.Base(path), opts.Width, opts.Height)
	}
	fps := opts.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-an",
	}
	args = append(args, encoderArgs(filepath.Ext(path), opts.Width, opts.Height)...)
	args = append(args, path)

	cmd := exec.CommandContext(ctx, f.ffmpeg, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = &tailWriter{w: stderr, limit: maxStderrBytes}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}

	if f.logger != nil {
		f.logger.Debug("encoder started", "output", filepath.Base(path),
			"width", opts.Width, "height", opts.Height, "fps", fps)
	}
	return &encoder{
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		width:  opts.Width,
		height: opts.Height,
	}, nil
}

// encoderArgs picks a codec per container. The output always keeps the
// input size: 4:2:0 chroma needs even dimensions, so odd sizes are encoded
// as 4:4:4 instead of being padded or scaled.
func encoderArgs(ext string, width, height int) []string {
	pixFmt := "yuv420p"
	if width%2 != 0 || height%2 != 0 {
		pixFmt = "yuv444p"
	}
	switch strings.ToLower(ext) {
	case ".webm":
		return []string{"-c:v", "libvpx-vp9", "-b:v", "0", "-crf", "32", "-row-mt", "1", "-pix_fmt", pixFmt}
	case ".avi":
		return []string{"-c:v", "mpeg4", "-q:v", "3"}
	default:
		return []string{"-c:v", "libx264", "-preset", "veryfast", "-crf", "20", "-pix_fmt", pixFmt}
	}
}

type encoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	width  int
	height int
	closed bool
}

func (e *encoder) WriteFrame(frame *image.RGBA) error {
	if e.closed {
		return errors.New("write to closed encoder")
	}
	b := frame.Bounds()
	if b.Dx() != e.width || b.Dy() != e.height {
		return fmt.Errorf("frame size %dx%d does not match encoder %dx%d", b.Dx(), b.Dy(), e.width, e.height)
	}

	rowLen := e.width * 4
	if frame.Stride == rowLen && len(frame.Pix) >= rowLen*e.height {
		if _, err := e.stdin.Write(frame.Pix[:rowLen*e.height]); err != nil {
			return e.writeErr(err)
		}
		return nil
	}
	for y := 0; y < e.height; y++ {
		off := frame.PixOffset(b.Min.X, b.Min.Y+y)
		if _, err := e.stdin.Write(frame.Pix[off : off+rowLen]); err != nil {
			return e.writeErr(err)
		}
	}
	return nil
}

// writeErr reaps the encoder so its stderr can be reported safely.
func (e *encoder) writeErr(err error) error {
	if cerr := e.Close(); cerr != nil {
		return fmt.Errorf("write frame: %w (%v)", err, cerr)
	}
	return fmt.Errorf("write frame: %w", err)
}

func (e *encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder exited: %w: %s", err, strings.TrimSpace(e.stderr.String()))
	}
	return nil
}

// Thumbnail grabs a single JPEG frame at offset seconds.
func (f *FFmpeg) Thumbnail(ctx context.Context, path, outPath string, offset float64) error {
	cmd := exec.CommandContext(ctx, f.ffmpeg,
		"-hide_banner", "-loglevel", "error", "-y", "-nostdin",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1", "-vf", "scale=320:-2",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &tailWriter{w: &stderr, limit: maxStderrBytes}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("thumbnail %s: %w: %s", filepath.Base(path), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// tailWriter keeps only the last limit bytes written to it.
type tailWriter struct {
	w     *bytes.Buffer
	limit int
}

func (tw *tailWriter) Write(p []byte) (int, error) {
	n := len(p)
	tw.w.Write(p)
	if tw.w.Len() > tw.limit {
		b := tw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-tw.limit:]...)
		tw.w.Reset()
		tw.w.Write(tail)
	}
	return n, nil
}
