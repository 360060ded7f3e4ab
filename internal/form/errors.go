package form

// ValidationKind names the validation rule a submission failed.
type ValidationKind int

// Validation kinds, in rule order.
const (
	InvalidFormData ValidationKind = iota
	MissingName
	MissingContactMethod
	InvalidEmail
	InvalidPhone
)

var kindMessages = map[ValidationKind]string{
	InvalidFormData:      "Invalid form data",
	MissingName:          "Name is required",
	MissingContactMethod: "Either email or phone number is required",
	InvalidEmail:         "Invalid email address",
	InvalidPhone:         "Invalid phone number",
}

// String returns the client-facing message for the kind.
func (k ValidationKind) String() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return kindMessages[InvalidFormData]
}

// ValidationError reports a user input defect. Its message is safe to return to clients.
type ValidationError struct {
	Kind ValidationKind
	// Err is the underlying cause, if any. It is logged but never sent to clients.
	Err error
}

// NewValidationError builds a ValidationError of the given kind.
func NewValidationError(kind ValidationKind, cause error) *ValidationError {
	return &ValidationError{Kind: kind, Err: cause}
}

func (e *ValidationError) Error() string {
	return e.Kind.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
