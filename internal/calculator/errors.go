package calculator

import "errors"

var (
	// ErrEmptyImage is returned when the data URL carries no payload.
	ErrEmptyImage = errors.New("image payload is empty")
	// ErrInvalidImage is returned when the payload is not a base64 data URL of a decodable image.
	ErrInvalidImage = errors.New("image must be a base64 data URL of a PNG, JPEG or GIF")
	// ErrImageTooLarge is returned when the decoded image exceeds the configured limit.
	ErrImageTooLarge = errors.New("image exceeds the configured size limit")
	// ErrAnalyzerUnavailable is returned when no analyzer is configured or the
	// configured one cannot be reached.
	ErrAnalyzerUnavailable = errors.New("analyzer is not available")
	// ErrAnalysisFailed is returned when the analyzer could not produce answers.
	ErrAnalysisFailed = errors.New("analyzer failed to process the image")
)
