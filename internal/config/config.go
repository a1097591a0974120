package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Output device
	Backend      string // sink backend: portaudio, speaker, wav, pipe, webrtc
	Device       string // backend-specific device identifier (path, listen addr)
	SampleFormat string // s16, s24, s32, f32

	// Volume
	VolumeCurve   string  // cubic, linear, log, fixed
	VolumeRangeDB float64 // dynamic range of the log curve
	InitialVolume int     // 0..65535

	// Normalisation
	Normalisation     bool
	NormalisationMode string  // track or album
	ReferenceDB       float64 // reference loudness target
	PregainDB         float64 // extra gain applied on top of the computed factor
	GainClampDB       float64 // computed gain is clamped to +/- this many dB
	LimiterThreshold  float64 // post-gain magnitude that engages the limiter
	LimiterAttack     time.Duration
	LimiterRelease    time.Duration

	// Pipeline
	BufferFrames     int           // bounded frame buffer depth (20ms each)
	PreloadThreshold time.Duration // remaining audio that triggers preload
	EventBuffer      int           // event channel depth before backpressure

	// Source
	TrackDir string // directory provider root
	TrackKey string // passphrase for encrypted tracks (empty = plaintext)
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Backend:      envStr("TONEARM_BACKEND", "portaudio"),
		Device:       envStr("TONEARM_DEVICE", ""),
		SampleFormat: envStr("TONEARM_SAMPLE_FORMAT", "s16"),

		VolumeCurve:   envStr("TONEARM_VOLUME_CURVE", "log"),
		VolumeRangeDB: envFloat("TONEARM_VOLUME_RANGE_DB", 60),
		InitialVolume: envInt("TONEARM_INITIAL_VOLUME", 32768),

		Normalisation:     envBool("TONEARM_NORMALISATION", true),
		NormalisationMode: envStr("TONEARM_NORMALISATION_MODE", "album"),
		ReferenceDB:       envFloat("TONEARM_REFERENCE_DB", -14),
		PregainDB:         envFloat("TONEARM_PREGAIN_DB", 0),
		GainClampDB:       envFloat("TONEARM_GAIN_CLAMP_DB", 24),
		LimiterThreshold:  envFloat("TONEARM_LIMITER_THRESHOLD", 0.98),
		LimiterAttack:     envMillis("TONEARM_LIMITER_ATTACK_MS", 5*time.Millisecond),
		LimiterRelease:    envMillis("TONEARM_LIMITER_RELEASE_MS", 100*time.Millisecond),

		BufferFrames:     envInt("TONEARM_BUFFER_FRAMES", 16),
		PreloadThreshold: time.Duration(envInt("TONEARM_PRELOAD_THRESHOLD", 10)) * time.Second,
		EventBuffer:      envInt("TONEARM_EVENT_BUFFER", 16),

		TrackDir: envStr("TONEARM_TRACK_DIR", "./tracks"),
		TrackKey: envStr("TONEARM_TRACK_KEY", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envMillis reads a millisecond count.
func envMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}
