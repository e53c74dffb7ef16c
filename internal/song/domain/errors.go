package domain

import "errors"

var (
	ErrSongNotFound      = errors.New("song_not_found")
	ErrInvalidTransition = errors.New("invalid_song_transition")
	ErrRetryNotAllowed   = errors.New("song_retry_not_allowed")
)
