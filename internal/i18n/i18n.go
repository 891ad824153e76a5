// Package i18n turns server error codes into user-facing messages.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var supported = []language.Tag{language.English, language.Japanese}

var matcher = language.NewMatcher(supported)

var messages = map[string][2]string{
	"error_invalid_csrf_token":       {"Your session expired. Please reload and try again.", "セッションの有効期限が切れました。再読み込みしてください。"},
	"error_access_denied":            {"You do not have access to this thread.", "このスレッドへのアクセス権がありません。"},
	"error_permission_denied":        {"You are not allowed to change this thread.", "このスレッドを変更する権限がありません。"},
	"error_missing_fields":           {"Some required fields are missing.", "必須項目が入力されていません。"},
	"error_thread_id_required":       {"A thread must be selected.", "スレッドを選択してください。"},
	"error_user_uuid_required":       {"A user identity is required.", "ユーザーIDが必要です。"},
	"error_code_required":            {"Please enter a code.", "コードを入力してください。"},
	"error_invalid_input":            {"The input is not valid.", "入力内容が正しくありません。"},
	"error_invalid_body":             {"The request could not be read.", "リクエストを読み取れませんでした。"},
	"error_invalid_id_or_permission": {"The post does not exist or is not yours.", "投稿が存在しないか、削除する権限がありません。"},
	"error_thread_not_found":         {"The thread was not found.", "スレッドが見つかりません。"},
	"error_not_found":                {"Not found.", "見つかりません。"},
	"error_invalid_code":             {"The code is invalid or has expired.", "コードが無効か、有効期限が切れています。"},
	"error_invalid_token":            {"The invite is invalid or has expired.", "招待が無効か、有効期限が切れています。"},
	"error_invalid_action":           {"Unknown request.", "不明なリクエストです。"},
	"error_cannot_remove_self":       {"You cannot remove yourself from a thread.", "自分自身をスレッドから外すことはできません。"},
	"error_rate_limited":             {"Too many requests. Please wait a moment.", "リクエストが多すぎます。しばらくお待ちください。"},
	"error_internal_server_error":    {"Something went wrong on the server.", "サーバーでエラーが発生しました。"},
}

var printers = func() map[language.Tag]*message.Printer {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for code, text := range messages {
		_ = b.SetString(language.English, code, text[0])
		_ = b.SetString(language.Japanese, code, text[1])
	}
	out := make(map[language.Tag]*message.Printer, len(supported))
	for _, tag := range supported {
		out[tag] = message.NewPrinter(tag, message.Catalog(b))
	}
	return out
}()

// Match picks the supported language closest to lang ("ja", "en-US",
// "ja-JP,ja;q=0.9"). Anything unparseable falls back to English.
func Match(lang string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(lang)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, index, _ := matcher.Match(tags...)
	return supported[index]
}

// Translate returns the message for code in tag. Unknown codes come back
// unchanged.
func Translate(tag language.Tag, code string) string {
	p, ok := printers[tag]
	if !ok {
		p = printers[Match(tag.String())]
	}
	return p.Sprintf(message.Key(code, code))
}

// Known reports whether code has a catalog entry.
func Known(code string) bool {
	_, ok := messages[code]
	return ok
}
