package handler

import (
	"fmt"
	"net/mail"
	"regexp"
	"unicode"
)

const (
	nameMinLength     = 2
	nameMaxLength     = 50
	passwordMinLength = 8
	passwordMaxLength = 100
)

// namePattern は氏名に許可する文字。英字、空白、ハイフン、アポストロフィのみ。
var namePattern = regexp.MustCompile(`^[a-zA-Z\s'-]+$`)

// validateName は氏名の形式を検証する。
func validateName(field, name string) error {
	if len(name) < nameMinLength || len(name) > nameMaxLength {
		return fmt.Errorf("%sは%d文字以上%d文字以下で入力してください", field, nameMinLength, nameMaxLength)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%sに使用できない文字が含まれています", field)
	}
	return nil
}

// validateEmail はメールアドレスの形式を検証する。
func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("メールアドレスを入力してください")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("メールアドレスの形式が正しくありません")
	}
	return nil
}

// validatePassword はパスワードの強度を検証する。
// 大文字・小文字・数字・記号をそれぞれ1文字以上含む必要がある。
func validatePassword(password string) error {
	if len(password) < passwordMinLength || len(password) > passwordMaxLength {
		return fmt.Errorf("パスワードは%d文字以上%d文字以下で入力してください", passwordMinLength, passwordMaxLength)
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSymbol {
		return fmt.Errorf("パスワードには大文字・小文字・数字・記号をそれぞれ1文字以上含めてください")
	}
	return nil
}
