package errors

import "errors"

var (
	ErrInvalidParticipant          = errors.New("invalid participant")
	ErrParticipantNotFound         = errors.New("participant not found")
	ErrParticipantExists           = errors.New("participant already enrolled")
	ErrParticipantNotWorking       = errors.New("participant is not working")
	ErrInvalidTransmission         = errors.New("invalid transmission")
	ErrTransmissionNotFound        = errors.New("transmission not found")
	ErrTransmissionAlreadyReceived = errors.New("transmission already received")
)
