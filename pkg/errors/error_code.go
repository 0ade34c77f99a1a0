package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102
	ErrCodeInvalidSymbol        ErrorCode = 103
	ErrCodeInvalidInterval      ErrorCode = 104
	ErrCodeParamsOutOfRange     ErrorCode = 105
	ErrCodeMissingParameter     ErrorCode = 106

	// Connection errors (200-299)
	ErrCodeGatewayUnreachable ErrorCode = 200
	ErrCodeLoginFailed        ErrorCode = 201
	ErrCodeAccountNotFound    ErrorCode = 202
	ErrCodeAccountNotLoggedIn ErrorCode = 203
	ErrCodeDuplicateConnect   ErrorCode = 204
	ErrCodeNoPrimaryAccount   ErrorCode = 205

	// Rollover errors (300-399)
	ErrCodeRolloverBlocked     ErrorCode = 300
	ErrCodeContractNotResolved ErrorCode = 301
	ErrCodeRolloverInProgress  ErrorCode = 302

	// Risk errors (400-499)
	ErrCodeRiskDenied       ErrorCode = 400
	ErrCodeRiskRuleConflict ErrorCode = 401

	// Position tracking errors (500-599)
	ErrCodePositionNotFound     ErrorCode = 500
	ErrCodeDuplicateTrade       ErrorCode = 501
	ErrCodeReconciliationFailed ErrorCode = 502
	ErrCodeJournalWriteFailed   ErrorCode = 503

	// Strategy/runtime errors (600-699)
	ErrCodeStrategyNotFound     ErrorCode = 600
	ErrCodeStrategyNotRunning   ErrorCode = 601
	ErrCodeStrategyInitFailed   ErrorCode = 602
	ErrCodeStrategyDuplicate    ErrorCode = 603
	ErrCodeInstanceNotStopped   ErrorCode = 604
	ErrCodeConfirmNotPermitted  ErrorCode = 605
	ErrCodeOrderSubmitFailed    ErrorCode = 606
	ErrCodeHistoricalDataFailed ErrorCode = 607

	// Store/config errors (700-799)
	ErrCodeStoreUnavailable  ErrorCode = 700
	ErrCodeStoreWriteFailed  ErrorCode = 701
	ErrCodeStoreReadFailed   ErrorCode = 702
	ErrCodeConfigLoadFailed  ErrorCode = 703
	ErrCodeConfigParseFailed ErrorCode = 704
)
