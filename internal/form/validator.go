package form

import (
	"errors"
	"fmt"
	"html"
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneLocale is the locale whose mobile number format is accepted when none is configured.
const DefaultPhoneLocale = "en-IN"

var (
	errEmailSyntax = errors.New("email address does not parse")
	errEmailDomain = errors.New("email domain is not a fully qualified name")
	errPhoneFormat = errors.New("phone number does not match the regional mobile format")

	tldPattern   = regexp.MustCompile(`^[a-z\p{L}]{2,63}$`)
	labelPattern = regexp.MustCompile(`^[a-z0-9\p{L}]([a-z0-9\p{L}-]*[a-z0-9\p{L}])?$`)
)

// mobilePatterns holds locales whose mobile format is matched by a fixed expression.
// Locales not listed here fall back to libphonenumber metadata.
var mobilePatterns = map[string]*regexp.Regexp{
	"en-IN": regexp.MustCompile(`^(\+?91|0)?[6789]\d{9}$`),
}

// PhoneMatcher reports whether a whitespace-free phone number is acceptable.
type PhoneMatcher interface {
	Match(phone string) bool
}

type patternMatcher struct {
	re *regexp.Regexp
}

func (m patternMatcher) Match(phone string) bool {
	return m.re.MatchString(phone)
}

type regionMatcher struct {
	region string
}

func (m regionMatcher) Match(phone string) bool {
	num, err := phonenumbers.Parse(phone, m.region)
	if err != nil {
		return false
	}
	if !phonenumbers.IsValidNumberForRegion(num, m.region) {
		return false
	}
	switch phonenumbers.GetNumberType(num) {
	case phonenumbers.MOBILE, phonenumbers.FIXED_LINE_OR_MOBILE:
		return true
	default:
		return false
	}
}

// NewPhoneMatcher returns the mobile number matcher for a locale such as "en-IN" or "en-GB".
func NewPhoneMatcher(locale string) (PhoneMatcher, error) {
	if locale == "" {
		locale = DefaultPhoneLocale
	}
	if re, ok := mobilePatterns[locale]; ok {
		return patternMatcher{re: re}, nil
	}
	_, region, found := strings.Cut(locale, "-")
	region = strings.ToUpper(region)
	if !found || len(region) != 2 {
		return nil, fmt.Errorf("unsupported phone locale %q", locale)
	}
	if phonenumbers.GetCountryCodeForRegion(region) == 0 {
		return nil, fmt.Errorf("unknown phone region %q", region)
	}
	return regionMatcher{region: region}, nil
}

// Validator checks and sanitizes raw submissions.
type Validator struct {
	phone PhoneMatcher
}

// NewValidator builds a Validator accepting mobile numbers for the given locale.
func NewValidator(phoneLocale string) (*Validator, error) {
	matcher, err := NewPhoneMatcher(phoneLocale)
	if err != nil {
		return nil, err
	}
	return &Validator{phone: matcher}, nil
}

// NewValidatorWithMatcher builds a Validator around a custom phone matcher.
func NewValidatorWithMatcher(phone PhoneMatcher) *Validator {
	return &Validator{phone: phone}
}

// Validate applies the submission rules in order and returns the sanitized submission.
// The returned error is always a *ValidationError.
func (v *Validator) Validate(in Input) (Submission, error) {
	// entity-only names such as "&nbsp;" sanitize to nothing and count as missing
	name := Sanitize(in.Name)
	email := strings.TrimSpace(in.Email)
	phone := stripSpace(in.Phone)

	if name == "" {
		return Submission{}, NewValidationError(MissingName, nil)
	}
	if email == "" && phone == "" {
		return Submission{}, NewValidationError(MissingContactMethod, nil)
	}
	if email != "" {
		if err := checkEmail(email); err != nil {
			return Submission{}, NewValidationError(InvalidEmail, err)
		}
	}
	if phone != "" && !v.phone.Match(phone) {
		return Submission{}, NewValidationError(InvalidPhone, errPhoneFormat)
	}

	sub := Submission{
		Name:    name,
		Phone:   phone,
		Message: Sanitize(in.Message),
	}
	if email != "" {
		sub.Email = NormalizeEmail(email)
	}
	return sub, nil
}

// Sanitize trims s and escapes HTML-significant characters. Already-escaped input is
// unescaped first, so applying Sanitize twice yields the same result as applying it once.
func Sanitize(s string) string {
	return html.EscapeString(strings.TrimSpace(html.UnescapeString(s)))
}

// NormalizeEmail lowercases an address and folds gmail aliases onto their canonical mailbox.
func NormalizeEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return strings.ToLower(email)
	}
	local := strings.ToLower(email[:at])
	domain := strings.ToLower(email[at+1:])

	switch domain {
	case "gmail.com", "googlemail.com":
		domain = "gmail.com"
		local, _, _ = strings.Cut(local, "+")
		local = strings.ReplaceAll(local, ".", "")
		if local == "" {
			return strings.ToLower(email)
		}
	}
	return local + "@" + domain
}

func checkEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("%w: %w", errEmailSyntax, err)
	}
	if addr.Address != email || addr.Name != "" {
		return errEmailSyntax
	}
	at := strings.LastIndex(email, "@")
	local, domain := email[:at], strings.ToLower(email[at+1:])
	if len(local) > 64 || len(domain) > 253 {
		return errEmailSyntax
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return errEmailDomain
	}
	for _, label := range labels {
		if len(label) > 63 || !labelPattern.MatchString(label) {
			return errEmailDomain
		}
	}
	if !tldPattern.MatchString(labels[len(labels)-1]) {
		return errEmailDomain
	}
	return nil
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
