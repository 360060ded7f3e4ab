package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/DeeparthGupta/dharaniDairyWeb/internal/correlation"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/database"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/form"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/metrics"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/storage/postgres"
)

const (
	successMessage      = "Form submitted successfully"
	genericErrorMessage = "An error occurred while processing your request. Please try again later."
)

type submitResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

func (s *Server) submitForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := correlation.FromContext(ctx)
	logger := s.logger.With(zap.String("request_id", reqID))

	input, err := s.decodeInput(w, r)
	if err != nil {
		s.reject(w, logger, form.NewValidationError(form.InvalidFormData, err))
		return
	}
	sub, err := s.validator.Validate(input)
	if err != nil {
		var verr *form.ValidationError
		if errors.As(err, &verr) {
			s.reject(w, logger, verr)
			return
		}
		s.fail(w, logger, reqID, fmt.Errorf("validate submission: %w", err))
		return
	}

	id, err := s.insert(ctx, sub)
	if err != nil {
		s.fail(w, logger, reqID, err)
		return
	}

	logger.Info("form submitted", zap.Int64("id", id))
	metrics.ObserveSubmission(metrics.OutcomeAccepted)
	writeJSON(w, http.StatusOK, submitResponse{Message: successMessage, ID: id})

	s.notify(ctx, logger, form.NewSubmissionEvent(id, sub, reqID, s.now().UTC()))
}

// insert runs exactly one insert attempt on a leased connection. The lease is released on
// every path.
func (s *Server) insert(ctx context.Context, sub form.Submission) (int64, error) {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer lease.Release()
	return s.store.Insert(ctx, lease.Conn(), sub)
}

func (s *Server) decodeInput(w http.ResponseWriter, r *http.Request) (form.Input, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)

	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return form.Input{}, fmt.Errorf("parse content type: %w", err)
		}
		mediaType = mt
	}

	switch mediaType {
	case "application/json":
		var in form.Input
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&in); err != nil {
			return form.Input{}, fmt.Errorf("decode json body: %w", err)
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return form.Input{}, errors.New("decode json body: trailing data")
		}
		return in, nil
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(s.opts.MaxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return form.Input{}, fmt.Errorf("parse form body: %w", err)
		}
		return form.Input{
			Name:    r.PostFormValue("name"),
			Email:   r.PostFormValue("email"),
			Phone:   r.PostFormValue("phone"),
			Message: r.PostFormValue("message"),
		}, nil
	default:
		return form.Input{}, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

func (s *Server) reject(w http.ResponseWriter, logger *zap.Logger, verr *form.ValidationError) {
	fields := []zap.Field{zap.String("rule", verr.Kind.String())}
	if verr.Err != nil {
		fields = append(fields, zap.NamedError("cause", verr.Err))
	}
	logger.Info("submission rejected", fields...)
	metrics.ObserveSubmission(metrics.OutcomeInvalid)
	writeError(w, http.StatusBadRequest, verr.Error(), "")
}

// fail logs err with its classification and answers 500. Production clients get a
// generic message; development clients get the error text.
func (s *Server) fail(w http.ResponseWriter, logger *zap.Logger, reqID string, err error) {
	fields := []zap.Field{zap.Error(err), zap.String("error_id", reqID)}
	outcome := metrics.OutcomeInternal

	var perr *database.PoolError
	var qerr *postgres.QueryError
	switch {
	case errors.As(err, &perr):
		outcome = metrics.OutcomePoolError
		fields = append(fields, zap.String("code", perr.Kind.String()))
	case errors.As(err, &qerr):
		outcome = metrics.OutcomeQueryError
		fields = append(fields, zap.String("code", qerr.Code))
	}
	logger.Error("form submission failed", fields...)
	metrics.ObserveSubmission(outcome)

	msg := genericErrorMessage
	if !s.opts.Production {
		msg = err.Error()
	}
	writeError(w, http.StatusInternalServerError, msg, reqID)
}

// notify publishes the event in the background. Failures are logged and counted; they
// never affect the response, which has already been written.
func (s *Server) notify(ctx context.Context, logger *zap.Logger, event form.SubmissionEvent) {
	if s.publisher == nil {
		return
	}
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.NotifyTimeout)
		defer cancel()
		msgID, err := s.publisher.Publish(pubCtx, s.opts.NotifyTopic, event)
		if err != nil {
			metrics.ObserveNotificationFailure(s.opts.NotifyBackend)
			logger.Warn("submission notification failed",
				zap.Int64("id", event.ID),
				zap.String("backend", s.opts.NotifyBackend),
				zap.Error(err),
			)
			return
		}
		logger.Debug("submission notification published",
			zap.Int64("id", event.ID),
			zap.String("message_id", msgID),
		)
	}()
}
