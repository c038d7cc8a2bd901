package stt

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/sirupsen/logrus"

	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/config"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/metrics"
)

// AmazonProvider implements the Provider interface for Amazon Transcribe
// streaming with speaker labels.
type AmazonProvider struct {
	logger *logrus.Logger
	client *transcribestreaming.Client
	config *config.STTConfig

	mu       sync.RWMutex
	callback TranscriptionCallback
}

// NewAmazonProvider creates a new Amazon Transcribe provider.
func NewAmazonProvider(logger *logrus.Logger, cfg *config.STTConfig) *AmazonProvider {
	return &AmazonProvider{
		logger: logger,
		config: cfg,
	}
}

// Name returns the provider name.
func (p *AmazonProvider) Name() string {
	return "amazon"
}

// Initialize initializes the Amazon Transcribe client. Credentials come
// from the standard AWS environment and credential chain.
func (p *AmazonProvider) Initialize() error {
	if p.config == nil {
		return fmt.Errorf("Amazon Transcribe configuration is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(p.config.AmazonRegion))
	if err != nil {
		p.logger.WithError(err).Error("Failed to load AWS configuration")
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	p.client = transcribestreaming.NewFromConfig(awsCfg)
	p.logger.WithField("region", p.config.AmazonRegion).Info("Amazon Transcribe provider initialized successfully")
	return nil
}

// SetCallback sets the callback function for transcription results.
func (p *AmazonProvider) SetCallback(callback TranscriptionCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callback = callback
}

func (p *AmazonProvider) invokeCallback(sessionID, transcript string, isFinal bool, metadata map[string]interface{}) {
	p.mu.RLock()
	cb := p.callback
	p.mu.RUnlock()
	if cb != nil {
		cb(sessionID, transcript, isFinal, metadata)
	}
}

// StreamToText streams audio data to Amazon Transcribe.
func (p *AmazonProvider) StreamToText(ctx context.Context, audioStream io.Reader, sessionID string) error {
	if p.client == nil {
		return ErrInitializationFailed
	}

	resp, err := p.client.StartStreamTranscription(ctx, &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(amazonLanguageCode(p.config.Language)),
		MediaEncoding:        types.MediaEncodingPcm,
		MediaSampleRateHertz: aws.Int32(int32(p.config.SampleRate)),
		ShowSpeakerLabel:     true,
	})
	if err != nil {
		p.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to start Amazon Transcribe stream")
		metrics.IncCounterVec(metrics.STTStreamErrors, p.Name())
		return fmt.Errorf("failed to start Amazon Transcribe stream: %w", err)
	}

	stream := resp.GetStream()
	defer stream.Close()

	errChan := make(chan error, 1)

	// Pump PCM frames into the event stream.
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
				chunk := make([]byte, n)
				copy(chunk, buffer[:n])
				if sendErr := stream.Send(ctx, &types.AudioStreamMemberAudioEvent{
					Value: types.AudioEvent{AudioChunk: chunk},
				}); sendErr != nil {
					errChan <- fmt.Errorf("failed to send audio to Amazon Transcribe: %w", sendErr)
					return
				}
			}
			if readErr == io.EOF {
				errChan <- nil
				return
			}
			if readErr != nil {
				errChan <- fmt.Errorf("failed to read audio stream: %w", readErr)
				return
			}
		}
	}()

	for event := range stream.Events() {
		transcriptEvent, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
		if !ok || transcriptEvent.Value.Transcript == nil {
			continue
		}

		for _, result := range transcriptEvent.Value.Transcript.Results {
			for _, alt := range result.Alternatives {
				if alt.Transcript == nil || *alt.Transcript == "" {
					continue
				}
				transcription := *alt.Transcript
				isFinal := !result.IsPartial

				metadata := map[string]interface{}{
					"provider": p.Name(),
					"language": p.config.Language,
				}
				for _, item := range alt.Items {
					if item.Speaker != nil {
						metadata["speaker"] = *item.Speaker
						break
					}
				}

				if isFinal {
					metrics.IncCounterVec(metrics.TranscriptsFinal, p.Name())
					p.logger.WithFields(logrus.Fields{
						"session_id":    sessionID,
						"transcription": transcription,
					}).Info("Received final transcription from Amazon Transcribe")
				} else {
					metrics.IncCounterVec(metrics.TranscriptsPartial, p.Name())
				}

				p.invokeCallback(sessionID, transcription, isFinal, metadata)
			}
		}
	}

	if streamErr := stream.Err(); streamErr != nil {
		metrics.IncCounterVec(metrics.STTStreamErrors, p.Name())
		return fmt.Errorf("Amazon Transcribe stream failed: %w", streamErr)
	}

	select {
	case err := <-errChan:
		return err
	default:
		return nil
	}
}

// amazonLanguageCode widens short language codes to the locale form
// Amazon Transcribe expects.
func amazonLanguageCode(language string) string {
	switch language {
	case "pl":
		return "pl-PL"
	case "en":
		return "en-US"
	case "de":
		return "de-DE"
	default:
		return language
	}
}
