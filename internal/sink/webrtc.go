package sink

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/satindergrewal/tonearm/internal/audio"
	"gopkg.in/hraban/opus.v2"
)

// webRTCSink serves playback to browsers over WebRTC. It listens on the
// configured address for SDP offers at /offer and fans each written frame
// out to every connected peer as an Opus sample.
type webRTCSink struct {
	addr string

	mu     sync.Mutex
	tracks map[*webrtc.PeerConnection]*webrtc.TrackLocalStaticSample
	srv    *http.Server
	enc    *opus.Encoder
	buf    []byte
	pcm    []int16
	open   bool
}

func newWebRTCSink(addr string) *webRTCSink {
	if addr == "" {
		addr = ":8765"
	}
	return &webRTCSink{
		addr:   addr,
		tracks: make(map[*webrtc.PeerConnection]*webrtc.TrackLocalStaticSample),
	}
}

func (s *webRTCSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	enc.SetBitrate(128000)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/offer", s)
	s.srv = &http.Server{Handler: mux}
	go s.srv.Serve(ln)

	s.enc = enc
	s.buf = make([]byte, 4000)
	s.pcm = make([]int16, audio.FrameSamples)
	s.open = true
	log.Printf("webrtc sink listening on %s", ln.Addr())
	return nil
}

func (s *webRTCSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"tonearm",
	)
	if err != nil {
		pc.Close()
		http.Error(w, "create audio track failed", http.StatusInternalServerError)
		return
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}
	<-webrtc.GatheringCompletePromise(pc)

	s.mu.Lock()
	s.tracks[pc] = track
	n := len(s.tracks)
	s.mu.Unlock()
	log.Printf("webrtc peer connected (total: %d)", n)

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		if st == webrtc.PeerConnectionStateFailed ||
			st == webrtc.PeerConnectionStateClosed ||
			st == webrtc.PeerConnectionStateDisconnected {
			s.removePeer(pc)
			pc.Close()
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func (s *webRTCSink) removePeer(pc *webrtc.PeerConnection) {
	s.mu.Lock()
	delete(s.tracks, pc)
	n := len(s.tracks)
	s.mu.Unlock()
	log.Printf("webrtc peer disconnected (remaining: %d)", n)
}

// Write encodes the frame once and hands the sample to every peer track.
// WriteSample paces delivery, so the sink still applies device-rate
// backpressure to the pipeline.
func (s *webRTCSink) Write(f *audio.Frame, conv *audio.Converter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrUnavailable
	}

	// The encoder wants whole frames; pad a short final frame with silence.
	n := copy(s.pcm, conv.ToS16(f.Samples))
	for i := n; i < len(s.pcm); i++ {
		s.pcm[i] = 0
	}

	nb, err := s.enc.Encode(s.pcm, s.buf)
	if err != nil {
		return fmt.Errorf("%w: opus encode: %v", ErrUnavailable, err)
	}
	sample := media.Sample{Data: s.buf[:nb], Duration: audio.FrameDuration}

	for _, track := range s.tracks {
		// A failed write means the peer is gone; the state-change callback
		// removes it, so playback for the others keeps going.
		_ = track.WriteSample(sample)
	}
	return nil
}

func (s *webRTCSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	for pc := range s.tracks {
		pc.Close()
		delete(s.tracks, pc)
	}
	if s.srv != nil {
		s.srv.Close()
		s.srv = nil
	}
	s.enc = nil
	return nil
}
