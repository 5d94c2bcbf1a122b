package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"time"
)

const (
	channelEmail = "email"
	channelSMS   = "sms"
)

var (
	errOTPInvalid      = errors.New("invalid verification code")
	errOTPExpired      = errors.New("verification code expired or not requested")
	errOTPNoAddress    = errors.New("no address on file for channel")
	errOTPTooManyTries = errors.New("too many verification attempts")
)

// otpService issues and checks one-time verification codes for a user's
// email address or phone number.
type otpService struct {
	kv          kvStore
	users       UserStore
	email       EmailSender
	sms         SMSSender
	length      int
	expiry      time.Duration
	maxAttempts int
}

func otpCodeKey(channel string, userID int) string {
	return fmt.Sprintf("otp:code:%s:%d", channel, userID)
}

func otpAttemptsKey(channel string, userID int) string {
	return fmt.Sprintf("otp:attempts:%s:%d", channel, userID)
}

func generateCode(length int) (string, error) {
	buf := make([]byte, length)
	ten := big.NewInt(10)
	for i := range buf {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}

// Send creates a fresh code, replacing any earlier one, and delivers it.
func (s *otpService) Send(ctx context.Context, userID int, channel string) error {
	contact, err := s.users.Contact(ctx, userID)
	if err != nil {
		return err
	}

	var to string
	switch channel {
	case channelEmail:
		to = contact.Email
	case channelSMS:
		to = contact.Phone
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}
	if to == "" {
		return errOTPNoAddress
	}

	code, err := generateCode(s.length)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	if err := s.kv.Set(ctx, otpCodeKey(channel, userID), code, s.expiry); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	if err := s.kv.Del(ctx, otpAttemptsKey(channel, userID)); err != nil {
		return fmt.Errorf("reset attempts: %w", err)
	}

	body := fmt.Sprintf("Your Roommate Finder verification code is %s. It expires in %s.", code, s.expiry)
	if channel == channelEmail {
		err = s.email.SendEmail(ctx, to, "Your verification code", body)
	} else {
		err = s.sms.SendSMS(ctx, to, body)
	}
	if err != nil {
		return fmt.Errorf("deliver code: %w", err)
	}
	otpSentTotal.WithLabelValues(channel).Inc()
	return nil
}

// Verify checks code and marks the channel verified on success. A wrong code
// counts against the attempt budget; once it is spent the code is dropped.
func (s *otpService) Verify(ctx context.Context, userID int, channel, code string) error {
	codeKey := otpCodeKey(channel, userID)
	attemptsKey := otpAttemptsKey(channel, userID)

	stored, ok, err := s.kv.Get(ctx, codeKey)
	if err != nil {
		return fmt.Errorf("load code: %w", err)
	}
	if !ok {
		return errOTPExpired
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		n, err := s.kv.Incr(ctx, attemptsKey, s.expiry)
		if err != nil {
			return fmt.Errorf("count attempt: %w", err)
		}
		if int(n) >= s.maxAttempts {
			_ = s.kv.Del(ctx, codeKey, attemptsKey)
			return errOTPTooManyTries
		}
		return errOTPInvalid
	}

	if err := s.users.MarkVerified(ctx, userID, channel); err != nil {
		return err
	}
	return s.kv.Del(ctx, codeKey, attemptsKey)
}

type otpSendRequest struct {
	Channel string `json:"channel" validate:"required,oneof=email sms"`
}

type otpVerifyRequest struct {
	Channel string `json:"channel" validate:"required,oneof=email sms"`
	Code    string `json:"code" validate:"required,numeric,min=4,max=8"`
}

// POST /auth/otp/send
func (s *server) otpSendHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req otpSendRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if !s.validateRequest(w, req) {
			return
		}

		err := s.otp.Send(r.Context(), currentUserID(r), req.Channel)
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, map[string]any{"sent": true, "channel": req.Channel})
		case errors.Is(err, errOTPNoAddress):
			writeError(w, http.StatusUnprocessableEntity, "no_address_for_channel")
		case errors.Is(err, errUserNotFound):
			writeError(w, http.StatusNotFound, "not_found")
		default:
			log.Println("[OTP] send failed:", err)
			writeError(w, http.StatusBadGateway, "otp_delivery_failed")
		}
	}
}

// POST /auth/otp/verify
func (s *server) otpVerifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req otpVerifyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if !s.validateRequest(w, req) {
			return
		}

		err := s.otp.Verify(r.Context(), currentUserID(r), req.Channel, req.Code)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"verified": true, "channel": req.Channel})
		case errors.Is(err, errOTPInvalid):
			writeError(w, http.StatusBadRequest, "invalid_code")
		case errors.Is(err, errOTPExpired):
			writeError(w, http.StatusGone, "code_expired")
		case errors.Is(err, errOTPTooManyTries):
			writeError(w, http.StatusTooManyRequests, "too_many_attempts")
		default:
			log.Println("[OTP] verify failed:", err)
			writeError(w, http.StatusInternalServerError, "otp_error")
		}
	}
}
