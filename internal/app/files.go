package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"go.mozhi.app/mozhi/internal/types"
	"go.mozhi.app/mozhi/langdetect"
	"go.mozhi.app/mozhi/transcribe"
)

// ErrBusy indicates a file transcription is already in flight.
var ErrBusy = errors.New("app: transcription already in progress")

// fileTranscriber is the one-shot transcription surface the service needs.
type fileTranscriber interface {
	File(ctx context.Context, name, mimeType string, data []byte) (transcribe.Result, error)
}

// TranscribeFile transcribes and translates an uploaded audio file. The
// frontend sends file bytes base64-encoded. Only one file is processed at a
// time. A successful result is committed to history and mirrored into the
// current captions.
func (s *Service) TranscribeFile(name, mimeType, dataB64 string) (transcribe.Result, error) {
	s.mu.Lock()
	files := s.files
	if files == nil {
		s.mu.Unlock()
		return transcribe.Result{}, errors.New("app: file transcription unavailable, configure an API key")
	}
	if s.busy {
		s.mu.Unlock()
		return transcribe.Result{}, ErrBusy
	}
	s.busy = true
	s.lastError = ""
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	data, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		err = fmt.Errorf("decode file data: %w", err)
		s.reportError(err)
		return transcribe.Result{}, err
	}

	res, err := files.File(context.Background(), name, mimeType, data)
	if err != nil {
		s.reportError(err)
		return transcribe.Result{}, err
	}

	rec := types.HistoryRecord{
		ID:          uuid.NewString(),
		User:        res.Transcription,
		Translation: res.Translation,
		SourceLang:  langdetect.Detect(res.Transcription),
		CreatedAt:   time.Now().UnixMilli(),
	}
	s.log.Add(rec)
	s.emit(EventHistoryAdded, rec)

	s.mu.Lock()
	s.captions = types.Captions{Input: res.Transcription, Output: res.Translation}
	captions := s.captions
	s.mu.Unlock()
	s.emit(EventLiveCaptions, captions)

	return res, nil
}

// AcceptsFile reports whether a file can be submitted for transcription.
func (s *Service) AcceptsFile(name, mimeType string) bool {
	return transcribe.Accepts(name, mimeType)
}
