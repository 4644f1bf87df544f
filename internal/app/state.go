// Package app holds the interactive session state: the loaded channels, their
// aligned and adjusted versions, and the events raised as they change.
package app

import (
	"fmt"
	"image"
	"sync"

	"rgb-aligner/internal/adjust"
	"rgb-aligner/internal/alignment"
	"rgb-aligner/internal/channel"
	"rgb-aligner/internal/logging"

	"github.com/sirupsen/logrus"
)

// Aligner registers a complete channel triple.
type Aligner interface {
	Align(in channel.Triple) (*alignment.Result, error)
}

// EventType identifies different session events.
type EventType int

const (
	EventChannelLoaded     EventType = iota // data: ChannelLoaded
	EventAlignmentComplete                  // data: *alignment.Result
	EventAlignmentFailed                    // data: error
	EventChannelAdjusted                    // data: channel.Index
)

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// ChannelLoaded is the payload of EventChannelLoaded.
type ChannelLoaded struct {
	Channel channel.Index
	Path    string // Empty when set from memory
}

// Session tracks one tri-colour capture being assembled.
type Session struct {
	mu sync.RWMutex

	aligner Aligner
	log     logrus.FieldLogger

	original  channel.Triple
	aligned   channel.Triple
	processed channel.Triple
	params    [channel.Count]adjust.Params
	result    *alignment.Result
	lastErr   error

	// Event listeners
	listeners map[EventType][]EventListener
}

// NewSession creates an empty session. A nil logger discards output.
func NewSession(aligner Aligner, log logrus.FieldLogger) *Session {
	if log == nil {
		log = logging.Discard()
	}
	return &Session{
		aligner:   aligner,
		log:       log,
		listeners: make(map[EventType][]EventListener),
	}
}

// On registers a listener for the specified event type.
func (s *Session) On(event EventType, listener EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (s *Session) Emit(event EventType, data interface{}) {
	s.mu.RLock()
	listeners := s.listeners[event]
	s.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// LoadChannel reads path into channel idx. See SetChannel.
func (s *Session) LoadChannel(idx channel.Index, path string) error {
	if !idx.Valid() {
		return fmt.Errorf("load %s: %w", idx, channel.ErrMissingChannel)
	}
	img, err := channel.Load(path)
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"channel": idx.String(), "path": path}).Info("Loaded channel")
	return s.setChannel(idx, img, path)
}

// SetChannel stores img as channel idx. Once all three channels are present
// the triple is re-aligned and every channel's adjustment re-applied; until
// then the channel is shown unaligned.
func (s *Session) SetChannel(idx channel.Index, img *image.Gray) error {
	return s.setChannel(idx, img, "")
}

func (s *Session) setChannel(idx channel.Index, img *image.Gray, path string) error {
	if !idx.Valid() || img == nil || img.Bounds().Empty() {
		return fmt.Errorf("set %s: %w", idx, channel.ErrMissingChannel)
	}

	s.mu.Lock()
	s.original[idx] = channel.Normalize(img)
	s.processed[idx] = channel.Clone(img)
	complete := s.original.Complete()
	s.mu.Unlock()

	s.Emit(EventChannelLoaded, ChannelLoaded{Channel: idx, Path: path})

	if complete {
		return s.Realign()
	}
	return nil
}

// Realign runs alignment over the current channels. On failure the aligned
// channels are cleared and the error is both returned and emitted.
func (s *Session) Realign() error {
	s.mu.RLock()
	in := s.original
	s.mu.RUnlock()

	if !in.Complete() {
		return fmt.Errorf("realign: %w", channel.ErrMissingChannel)
	}

	result, err := s.aligner.Align(in)
	if err != nil {
		s.mu.Lock()
		s.aligned = channel.Triple{}
		s.result = nil
		s.lastErr = err
		s.mu.Unlock()

		s.log.WithError(err).Error("Alignment failed")
		s.Emit(EventAlignmentFailed, err)
		return err
	}

	s.mu.Lock()
	s.aligned = result.Channels
	s.result = result
	s.lastErr = nil
	for i := range s.processed {
		s.processed[i] = adjust.Apply(s.aligned[i], s.params[i])
	}
	s.mu.Unlock()

	s.Emit(EventAlignmentComplete, result)
	return nil
}

// SetAdjustment sets the brightness/contrast of channel idx and re-applies it
// to the aligned channel, if there is one.
func (s *Session) SetAdjustment(idx channel.Index, p adjust.Params) error {
	if !idx.Valid() {
		return fmt.Errorf("adjust: invalid channel %s", idx)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("adjust %s: %w", idx, err)
	}

	s.mu.Lock()
	s.params[idx] = p
	aligned := s.aligned[idx]
	if aligned != nil {
		s.processed[idx] = adjust.Apply(aligned, p)
	}
	s.mu.Unlock()

	if aligned != nil {
		s.Emit(EventChannelAdjusted, idx)
	}
	return nil
}

// Adjustment returns the brightness/contrast of channel idx.
func (s *Session) Adjustment(idx channel.Index) adjust.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params[idx]
}

// Original returns the channel as loaded, or nil.
func (s *Session) Original(idx channel.Index) *image.Gray {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.original[idx]
}

// Aligned returns the channel in the reference frame, or nil before a
// successful alignment.
func (s *Session) Aligned(idx channel.Index) *image.Gray {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aligned[idx]
}

// Processed returns the channel as it should be displayed: adjusted and
// aligned once alignment has succeeded, the raw load before that.
func (s *Session) Processed(idx channel.Index) *image.Gray {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processed[idx]
}

// ProcessedTriple returns all three display channels.
func (s *Session) ProcessedTriple() channel.Triple {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processed
}

// Result returns the last successful alignment, or nil.
func (s *Session) Result() *alignment.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// LastError returns the error of the most recent alignment attempt.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Complete reports whether all three channels are loaded.
func (s *Session) Complete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.original.Complete()
}
