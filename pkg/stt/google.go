package stt

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/config"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/metrics"
)

// GoogleProvider implements the Provider interface for Google
// Speech-to-Text streaming recognition with diarization.
type GoogleProvider struct {
	logger *logrus.Logger
	client *speech.Client
	config *config.STTConfig

	mu       sync.RWMutex
	callback TranscriptionCallback
}

// NewGoogleProvider creates a new Google Speech-to-Text provider.
func NewGoogleProvider(logger *logrus.Logger, cfg *config.STTConfig) *GoogleProvider {
	return &GoogleProvider{
		logger: logger,
		config: cfg,
	}
}

// Name returns the provider name.
func (p *GoogleProvider) Name() string {
	return "google"
}

// Initialize initializes the Google Speech-to-Text client.
func (p *GoogleProvider) Initialize() error {
	if p.config == nil {
		return fmt.Errorf("Google STT configuration is required")
	}

	var clientOptions []option.ClientOption
	if p.config.GoogleAPIKey != "" {
		clientOptions = append(clientOptions, option.WithAPIKey(p.config.GoogleAPIKey))
		p.logger.Debug("Using Google STT API key authentication")
	} else if p.config.GoogleCredentialsFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(p.config.GoogleCredentialsFile))
		p.logger.WithField("credentials_file", p.config.GoogleCredentialsFile).Debug("Using Google STT credentials file")
	} else {
		return fmt.Errorf("Google STT requires either API key or credentials file")
	}

	var err error
	p.client, err = speech.NewClient(context.Background(), clientOptions...)
	if err != nil {
		p.logger.WithError(err).Error("Failed to create Google Speech client")
		return fmt.Errorf("failed to create Google Speech client: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"language":    p.config.Language,
		"sample_rate": p.config.SampleRate,
	}).Info("Google Speech-to-Text client initialized successfully")
	return nil
}

// SetCallback sets the callback function for transcription results.
func (p *GoogleProvider) SetCallback(callback TranscriptionCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callback = callback
}

func (p *GoogleProvider) invokeCallback(sessionID, transcript string, isFinal bool, metadata map[string]interface{}) {
	p.mu.RLock()
	cb := p.callback
	p.mu.RUnlock()
	if cb != nil {
		cb(sessionID, transcript, isFinal, metadata)
	}
}

// StreamToText streams audio data to Google Speech-to-Text.
func (p *GoogleProvider) StreamToText(ctx context.Context, audioStream io.Reader, sessionID string) error {
	if p.client == nil {
		return ErrInitializationFailed
	}

	stream, err := p.client.StreamingRecognize(ctx)
	if err != nil {
		p.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to start Google Speech-to-Text stream")
		return err
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(p.config.SampleRate),
		LanguageCode:               p.config.Language,
		EnableAutomaticPunctuation: true,
		DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          2,
			MaxSpeakerCount:          2,
		},
	}

	streamingConfig := &speechpb.StreamingRecognitionConfig{
		Config:         recognitionConfig,
		InterimResults: true,
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: streamingConfig,
		},
	}); err != nil {
		p.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to send streaming config")
		return err
	}

	errChan := make(chan error, 2)
	doneChan := make(chan struct{})

	// Pump the audio stream into the gRPC stream.
	go func() {
		buffer := make([]byte, 8192)
		for {
			select {
			case <-ctx.Done():
				stream.CloseSend()
				return
			default:
			}

			n, readErr := audioStream.Read(buffer)
			if n > 0 {
				if sendErr := stream.Send(&speechpb.StreamingRecognizeRequest{
					StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
						AudioContent: buffer[:n],
					},
				}); sendErr != nil {
					p.logger.WithError(sendErr).WithField("session_id", sessionID).Error("Failed to send audio content to Google Speech-to-Text")
					errChan <- sendErr
					return
				}
			}
			if readErr == io.EOF {
				stream.CloseSend()
				return
			}
			if readErr != nil {
				p.logger.WithError(readErr).WithField("session_id", sessionID).Error("Failed to read audio stream")
				errChan <- readErr
				return
			}
		}
	}()

	// Receive transcription results.
	go func() {
		defer close(doneChan)
		for {
			resp, recvErr := stream.Recv()
			if recvErr == io.EOF {
				return
			}
			if recvErr != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.WithError(recvErr).WithField("session_id", sessionID).Error("Error receiving streaming response")
				errChan <- recvErr
				return
			}

			for _, result := range resp.Results {
				for _, alt := range result.Alternatives {
					transcription := alt.Transcript
					if transcription == "" {
						continue
					}

					// Confidence is a protobuf float32; widen it so every
					// provider hands the same type downstream.
					metadata := map[string]interface{}{
						"provider":   p.Name(),
						"confidence": float64(alt.Confidence),
						"language":   result.LanguageCode,
					}
					if len(alt.Words) > 0 && alt.Words[0].SpeakerTag != 0 {
						metadata["speaker"] = strconv.Itoa(int(alt.Words[0].SpeakerTag))
					}

					if result.IsFinal {
						metrics.IncCounterVec(metrics.TranscriptsFinal, p.Name())
						p.logger.WithFields(logrus.Fields{
							"session_id":    sessionID,
							"transcription": transcription,
							"final":         true,
						}).Info("Received final transcription")
					} else {
						metrics.IncCounterVec(metrics.TranscriptsPartial, p.Name())
						p.logger.WithFields(logrus.Fields{
							"session_id":    sessionID,
							"transcription": transcription,
							"final":         false,
						}).Debug("Received interim transcription")
					}

					p.invokeCallback(sessionID, transcription, result.IsFinal, metadata)
				}
			}
		}
	}()

	select {
	case err := <-errChan:
		metrics.IncCounterVec(metrics.STTStreamErrors, p.Name())
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-doneChan:
		return nil
	}
}
