package stt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/config"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/metrics"
)

// DeepgramProvider streams audio to the Deepgram live transcription API
// over a WebSocket and delivers interim and final results with speaker
// diarization enabled.
type DeepgramProvider struct {
	logger *logrus.Logger
	config *config.STTConfig

	mu       sync.RWMutex
	callback TranscriptionCallback
}

// NewDeepgramProvider creates a new Deepgram provider.
func NewDeepgramProvider(logger *logrus.Logger, cfg *config.STTConfig) *DeepgramProvider {
	return &DeepgramProvider{
		logger: logger,
		config: cfg,
	}
}

// Name returns the provider name.
func (p *DeepgramProvider) Name() string {
	return "deepgram"
}

// Initialize validates the Deepgram configuration.
func (p *DeepgramProvider) Initialize() error {
	if p.config == nil || p.config.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is not set in the environment")
	}
	p.logger.Info("Deepgram provider initialized successfully")
	return nil
}

// SetCallback sets the callback function for transcription results.
func (p *DeepgramProvider) SetCallback(callback TranscriptionCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callback = callback
}

func (p *DeepgramProvider) invokeCallback(sessionID, transcript string, isFinal bool, metadata map[string]interface{}) {
	p.mu.RLock()
	cb := p.callback
	p.mu.RUnlock()
	if cb != nil {
		cb(sessionID, transcript, isFinal, metadata)
	}
}

// deepgramLiveResponse is the shape of one live-transcription message.
type deepgramLiveResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
				Speaker    int     `json:"speaker"`
			} `json:"words"`
			Languages []string `json:"languages"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// StreamToText streams raw PCM to Deepgram and pumps results back until
// the audio stream or the context ends.
func (p *DeepgramProvider) StreamToText(ctx context.Context, audioStream io.Reader, sessionID string) error {
	wsURL, err := p.buildURL()
	if err != nil {
		return fmt.Errorf("failed to build Deepgram URL: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+p.config.DeepgramAPIKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to Deepgram (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to Deepgram: %w", err)
	}
	defer conn.Close()

	p.logger.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"sample_rate": p.config.SampleRate,
		"language":    p.config.Language,
	}).Info("Deepgram live stream opened")

	errChan := make(chan error, 2)

	// Writer: pump PCM frames into the socket.
	go func() {
		buffer := make([]byte, 8192)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			n, readErr := audioStream.Read(buffer)
			if n > 0 {
				if writeErr := conn.WriteMessage(websocket.BinaryMessage, buffer[:n]); writeErr != nil {
					errChan <- fmt.Errorf("failed to send audio to Deepgram: %w", writeErr)
					return
				}
			}
			if readErr == io.EOF {
				// Empty binary frame tells Deepgram the stream is over.
				conn.WriteMessage(websocket.BinaryMessage, []byte{})
				errChan <- nil
				return
			}
			if readErr != nil {
				errChan <- fmt.Errorf("failed to read audio stream: %w", readErr)
				return
			}
		}
	}()

	// Reader: decode result messages and invoke the callback.
	go func() {
		for {
			var result deepgramLiveResponse
			if readErr := conn.ReadJSON(&result); readErr != nil {
				if websocket.IsCloseError(readErr, websocket.CloseNormalClosure) {
					errChan <- nil
				} else {
					errChan <- fmt.Errorf("error receiving Deepgram response: %w", readErr)
				}
				return
			}

			if result.Type != "Results" || len(result.Channel.Alternatives) == 0 {
				continue
			}

			alternative := result.Channel.Alternatives[0]
			if alternative.Transcript == "" {
				continue
			}

			metadata := map[string]interface{}{
				"provider":   p.Name(),
				"confidence": alternative.Confidence,
				"language":   p.config.Language,
			}
			if len(alternative.Languages) > 0 {
				metadata["language"] = alternative.Languages[0]
			}
			if len(alternative.Words) > 0 {
				metadata["speaker"] = strconv.Itoa(alternative.Words[0].Speaker)
			}

			if result.IsFinal {
				metrics.IncCounterVec(metrics.TranscriptsFinal, p.Name())
				p.logger.WithFields(logrus.Fields{
					"session_id": sessionID,
					"transcript": alternative.Transcript,
					"confidence": alternative.Confidence,
				}).Info("Received final transcription from Deepgram")
			} else {
				metrics.IncCounterVec(metrics.TranscriptsPartial, p.Name())
				p.logger.WithFields(logrus.Fields{
					"session_id": sessionID,
					"transcript": alternative.Transcript,
				}).Debug("Received interim transcription from Deepgram")
			}

			p.invokeCallback(sessionID, alternative.Transcript, result.IsFinal, metadata)
		}
	}()

	select {
	case err := <-errChan:
		if err != nil {
			metrics.IncCounterVec(metrics.STTStreamErrors, p.Name())
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *DeepgramProvider) buildURL() (string, error) {
	u, err := url.Parse(p.config.DeepgramAPIURL)
	if err != nil {
		return "", err
	}

	query := u.Query()
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(p.config.SampleRate))
	query.Set("channels", "1")
	query.Set("language", p.config.Language)
	query.Set("punctuate", "true")
	query.Set("interim_results", "true")
	query.Set("diarize", "true")
	u.RawQuery = query.Encode()

	return u.String(), nil
}
