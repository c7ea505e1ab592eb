package keyboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Paranoid-AF/typira"
	"github.com/Paranoid-AF/typira/actions"
)

// ErrNoRecorder is returned by the "mic" chip when no recorder is configured.
var ErrNoRecorder = errors.New("keyboard: no recorder")

func (s *Session) registerBuiltins() {
	s.dispatcher.Register(ChipHub, s.openHub)
	s.dispatcher.Register(ChipPaste, s.pasteMemory)
	s.dispatcher.Register(ChipMic, s.toggleDictation)
	s.dispatcher.Register(ChipRewrite, func(ctx context.Context) error {
		s.post(func() { s.ui.ShowView(ViewAgent) })
		return nil
	})
}

func (s *Session) openHub(ctx context.Context) error {
	if err := actions.Open(ctx, s.openers, HomeURI); err != nil {
		s.postStatus(typira.Status{Kind: typira.StatusInfo, Text: "Could not open: Typira"})
		return err
	}
	return nil
}

// pasteMemory remembers the current clipboard text.
func (s *Session) pasteMemory(ctx context.Context) error {
	text, err := s.clipboard()
	if err != nil {
		return fmt.Errorf("read clipboard: %w", err)
	}
	s.Remember(text)
	return nil
}

// toggleDictation starts a recording, or stops the running one and inserts
// its transcript.
func (s *Session) toggleDictation(ctx context.Context) error {
	if s.recorder == nil {
		return ErrNoRecorder
	}
	start := make(chan bool, 1)
	if !s.loop.Do(func() {
		start <- !s.recording
		s.recording = !s.recording
	}) {
		return nil
	}
	if <-start {
		if err := s.recorder.Start(); err != nil {
			s.loop.Do(func() { s.recording = false })
			return fmt.Errorf("start recording: %w", err)
		}
		s.postStatus(typira.Status{Kind: typira.StatusInfo, Text: "Listening..."})
		return nil
	}

	path, err := s.recorder.Stop()
	if err != nil {
		s.postStatus(typira.Status{Kind: typira.StatusIdle})
		return fmt.Errorf("stop recording: %w", err)
	}
	s.postStatus(typira.Status{Kind: typira.StatusInfo, Text: "Transcribing..."})
	text, err := s.backend.Transcribe(ctx, path)
	if err != nil {
		s.postStatus(typira.Status{Kind: typira.StatusIdle})
		return fmt.Errorf("transcribe: %w", err)
	}
	slog.Debug("transcribed dictation", "chars", len(text))
	s.post(func() {
		if text != "" {
			s.ui.InsertText(text)
		}
		s.ui.SetStatus(typira.Status{Kind: typira.StatusIdle})
	})
	return nil
}
