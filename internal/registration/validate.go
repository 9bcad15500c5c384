// Package registration validates the answers collected by the registration flow.
package registration

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MinGraduationYear is the first class the school graduated.
const MinGraduationYear = 1996

// ValidationError carries a message that can be shown to the user as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(msg string) error { return &ValidationError{Message: msg} }

// ErrMissingLetter means the year was parsed but the class letter is absent.
var ErrMissingLetter = &ValidationError{Message: "Пожалуйста, укажите также букву класса."}

func isCyrillic(r rune) bool {
	return unicode.Is(unicode.Cyrillic, r)
}

// ValidateFullName expects at least two Cyrillic words.
func ValidateFullName(name string) (string, error) {
	words := strings.Fields(name)
	if len(words) < 2 {
		return "", invalid("Пожалуйста, укажите хотя бы имя и фамилию :)")
	}
	for _, w := range words {
		for _, r := range w {
			if r == '-' {
				continue
			}
			if !isCyrillic(r) {
				return "", invalid("По-русски, пожалуйста :)")
			}
		}
	}
	return strings.Join(words, " "), nil
}

func ValidateGraduationYear(year int, now time.Time) error {
	switch {
	case year < MinGraduationYear:
		return invalid(fmt.Sprintf("Год выпуска должен быть не раньше %d.", MinGraduationYear))
	case year > now.Year()+4:
		return invalid(fmt.Sprintf("Год выпуска не может быть позже %d.", now.Year()+4))
	case year >= now.Year():
		return invalid("Извините, регистрация только для выпускников. Приходите после выпуска!")
	}
	return nil
}

// ValidateClassLetter returns the upper-cased letter.
func ValidateClassLetter(letter string) (string, error) {
	letter = strings.TrimSpace(letter)
	switch {
	case letter == "":
		return "", invalid("Пожалуйста, укажите букву класса.")
	case utf8.RuneCountInString(letter) > 1:
		return "", invalid("Буква класса должна быть только одним символом.")
	}
	r, _ := utf8.DecodeRuneInString(letter)
	if !isCyrillic(r) || !unicode.IsLetter(r) {
		return "", invalid("Буква класса должна быть на русском языке.")
	}
	return strings.ToUpper(letter), nil
}

var errFormat = invalid("Неверный формат. Пожалуйста, введите год выпуска и букву класса (например, '2003 Б').")

// ParseYearAndLetter accepts "2003 Б", "2003Б" or a bare "2003". A bare year
// is returned together with ErrMissingLetter so the caller can ask for the
// letter separately.
func ParseYearAndLetter(s string, now time.Time) (int, string, error) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, "", errFormat
	}
	year, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, "", errFormat
	}
	if err := ValidateGraduationYear(year, now); err != nil {
		return 0, "", err
	}
	rest := strings.TrimSpace(s[i:])
	if rest == "" {
		return year, "", ErrMissingLetter
	}
	letter, err := ValidateClassLetter(rest)
	if err != nil {
		return 0, "", err
	}
	return year, letter, nil
}

// AsValidation unwraps a ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
