package encoder

import "strconv"

// Fixed output profile for every attempt.
const (
	VideoCodec   = "libx264"
	Preset       = "veryfast"
	VideoBitrate = "3000k"
	MaxRate      = "3000k"
	BufSize      = "6000k"
	PixFmt       = "yuv420p"
	GOPSize      = 50
	AudioCodec   = "aac"
	AudioBitrate = "160k"
	AudioRate    = 44100
	Format       = "flv"
)

// Args builds the ffmpeg argument list (without the binary) that re-encodes
// src and publishes it to dest.
func Args(src, dest string) []string {
	args := make([]string, 0, 32)

	args = append(args, "-hide_banner", "-nostdin", "-y")
	args = append(args, "-i", src)

	args = append(args,
		"-c:v", VideoCodec,
		"-preset", Preset,
		"-b:v", VideoBitrate,
		"-maxrate", MaxRate,
		"-bufsize", BufSize,
		"-pix_fmt", PixFmt,
		"-g", strconv.Itoa(GOPSize),
	)

	args = append(args,
		"-c:a", AudioCodec,
		"-b:a", AudioBitrate,
		"-ar", strconv.Itoa(AudioRate),
	)

	args = append(args, "-f", Format, dest)
	return args
}
