package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

const (
	defaultPostLimit = 10
	maxPostLimit     = 200
)

// Request is one decoded action. The set of implementations is closed:
// every variant lives in this file and Service.Dispatch switches over all
// of them.
type Request interface {
	Action() string
	validate(identity string) error
}

// ID accepts a JSON number or a numeric string. Fractional or out of
// range numbers are rejected; anything else decodes as zero, which the
// field checks treat as missing.
type ID int64

func (id *ID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(bytes.Trim(data, `"`)))
	if raw == "" || raw == "null" {
		*id = 0
		return nil
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*id = ID(v)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return errNonIntegralID
		}
		*id = ID(f)
		return nil
	}
	*id = 0
	return nil
}

var errNonIntegralID = errors.New("id is not an integer")

type GetPostsRequest struct {
	ThreadID ID `json:"thread_id"`
	Limit    ID `json:"limit"`
	Offset   ID `json:"offset"`
	BeforeID ID `json:"before_id"`
	AfterID  ID `json:"after_id"`
}

type CreatePostRequest struct {
	ThreadID ID     `json:"thread_id"`
	Body     string `json:"body"`
}

type DeletePostRequest struct {
	ID ID `json:"id"`
}

type CreateThreadRequest struct {
	Title string `json:"title"`
}

type GetThreadsRequest struct{}

type GetUserRequest struct{}

type RegisterUserRequest struct {
	Name string `json:"name"`
}

type UpdateUserRequest struct {
	Name string `json:"name"`
}

type GenerateTransferCodeRequest struct{}

type CheckTransferCodeRequest struct {
	Code string `json:"code"`
}

type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

type RegisterSubscriptionRequest struct {
	Endpoint string           `json:"endpoint"`
	Keys     SubscriptionKeys `json:"keys"`
}

type GetThreadSettingsRequest struct {
	ThreadID ID `json:"thread_id"`
}

type UpdateThreadTitleRequest struct {
	ThreadID ID     `json:"thread_id"`
	Title    string `json:"title"`
}

type AddThreadMemberRequest struct {
	ThreadID       ID     `json:"thread_id"`
	TargetUserUUID string `json:"target_user_uuid"`
}

type RemoveThreadMemberRequest struct {
	ThreadID       ID     `json:"thread_id"`
	TargetUserUUID string `json:"target_user_uuid"`
}

type GenerateInviteTokenRequest struct {
	ThreadID ID `json:"thread_id"`
}

type JoinWithInviteRequest struct {
	ThreadID ID     `json:"thread_id"`
	Token    string `json:"token"`
}

type SummarizeThreadRequest struct {
	ThreadID ID `json:"thread_id"`
}

func (GetPostsRequest) Action() string             { return "get_posts" }
func (CreatePostRequest) Action() string           { return "create_post" }
func (DeletePostRequest) Action() string           { return "delete_post" }
func (CreateThreadRequest) Action() string         { return "create_thread" }
func (GetThreadsRequest) Action() string           { return "get_threads" }
func (GetUserRequest) Action() string              { return "get_user" }
func (RegisterUserRequest) Action() string         { return "register_user" }
func (UpdateUserRequest) Action() string           { return "update_user" }
func (GenerateTransferCodeRequest) Action() string { return "generate_transfer_code" }
func (CheckTransferCodeRequest) Action() string    { return "check_transfer_code" }
func (RegisterSubscriptionRequest) Action() string { return "register_subscription" }
func (GetThreadSettingsRequest) Action() string    { return "get_thread_settings" }
func (UpdateThreadTitleRequest) Action() string    { return "update_thread_title" }
func (AddThreadMemberRequest) Action() string      { return "add_thread_member" }
func (RemoveThreadMemberRequest) Action() string   { return "remove_thread_member" }
func (GenerateInviteTokenRequest) Action() string  { return "generate_invite_token" }
func (JoinWithInviteRequest) Action() string       { return "join_with_invite" }
func (SummarizeThreadRequest) Action() string      { return "summarize_thread" }

// requireAll fails with code unless every check holds.
func requireAll(code string, checks ...bool) error {
	for _, ok := range checks {
		if !ok {
			return validationError(code)
		}
	}
	return nil
}

func present(s string) bool { return strings.TrimSpace(s) != "" }

func (r GetPostsRequest) validate(identity string) error {
	if r.ThreadID <= 0 {
		return validationError(CodeThreadIDRequired)
	}
	return requireAll(CodeMissingFields, present(identity))
}

func (r CreatePostRequest) validate(identity string) error {
	return requireAll(CodeMissingFields, r.ThreadID > 0, present(r.Body), present(identity))
}

func (r DeletePostRequest) validate(identity string) error {
	return requireAll(CodeMissingFields, r.ID > 0, present(identity))
}

func (r CreateThreadRequest) validate(identity string) error {
	return requireAll(CodeMissingFields, present(r.Title), present(identity))
}

func (GetThreadsRequest) validate(identity string) error {
	return requireAll(CodeMissingFields, present(identity))
}

func (GetUserRequest) validate(identity string) error {
	return requireAll(CodeMissingFields, present(identity))
}

func (r RegisterUserRequest) validate(identity string) error {
	return requireAll(CodeMissingFields, present(r.Name), present(identity))
}

func (r UpdateUserRequest) validate(identity string) error {
	return requireAll(CodeMissingFields, present(r.Name), present(identity))
}

func (GenerateTransferCodeRequest) validate(identity string) error {
	return requireAll(CodeUserUUIDRequired, present(identity))
}

func (r CheckTransferCodeRequest) validate(string) error {
	return requireAll(CodeCodeRequired, present(r.Code))
}

func (r RegisterSubscriptionRequest) validate(identity string) error {
	return requireAll(CodeMissingFields, present(r.Endpoint), present(r.Keys.P256dh), present(r.Keys.Auth), present(identity))
}

func (r GetThreadSettingsRequest) validate(identity string) error {
	if r.ThreadID <= 0 {
		return validationError(CodeThreadIDRequired)
	}
	return requireAll(CodeMissingFields, present(identity))
}

func (r UpdateThreadTitleRequest) validate(identity string) error {
	if err := requireAll(CodeInvalidInput, r.ThreadID > 0, present(r.Title)); err != nil {
		return err
	}
	return requireAll(CodeMissingFields, present(identity))
}

func (r AddThreadMemberRequest) validate(identity string) error {
	if err := requireAll(CodeInvalidInput, r.ThreadID > 0, present(r.TargetUserUUID)); err != nil {
		return err
	}
	return requireAll(CodeMissingFields, present(identity))
}

func (r RemoveThreadMemberRequest) validate(identity string) error {
	if err := requireAll(CodeInvalidInput, r.ThreadID > 0, present(r.TargetUserUUID)); err != nil {
		return err
	}
	return requireAll(CodeMissingFields, present(identity))
}

func (r GenerateInviteTokenRequest) validate(identity string) error {
	if r.ThreadID <= 0 {
		return validationError(CodeThreadIDRequired)
	}
	return requireAll(CodeMissingFields, present(identity))
}

func (r JoinWithInviteRequest) validate(identity string) error {
	if err := requireAll(CodeInvalidInput, r.ThreadID > 0, present(r.Token)); err != nil {
		return err
	}
	return requireAll(CodeMissingFields, present(identity))
}

func (r SummarizeThreadRequest) validate(identity string) error {
	if r.ThreadID <= 0 {
		return validationError(CodeThreadIDRequired)
	}
	return requireAll(CodeMissingFields, present(identity))
}

// limit applies the page size default and ceiling.
func (r GetPostsRequest) limit() int {
	switch {
	case r.Limit <= 0:
		return defaultPostLimit
	case r.Limit > maxPostLimit:
		return maxPostLimit
	default:
		return int(r.Limit)
	}
}

// nonNegative maps a negative cursor or offset to zero, meaning unset.
func nonNegative(v ID) ID {
	if v < 0 {
		return 0
	}
	return v
}

type envelope struct {
	Action string `json:"action"`
}

// peekAction reads only the action tag.
func peekAction(body []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", validationError(CodeInvalidBody)
	}
	return env.Action, nil
}

// DecodeRequest maps the action tag to its variant and decodes the
// remaining fields into it.
func DecodeRequest(body []byte) (Request, error) {
	action, err := peekAction(body)
	if err != nil {
		return nil, err
	}

	var req Request
	switch action {
	case "get_posts":
		req, err = decodeAs[GetPostsRequest](body)
	case "create_post":
		req, err = decodeAs[CreatePostRequest](body)
	case "delete_post":
		req, err = decodeAs[DeletePostRequest](body)
	case "create_thread":
		req, err = decodeAs[CreateThreadRequest](body)
	case "get_threads":
		req = GetThreadsRequest{}
	case "get_user":
		req = GetUserRequest{}
	case "register_user":
		req, err = decodeAs[RegisterUserRequest](body)
	case "update_user":
		req, err = decodeAs[UpdateUserRequest](body)
	case "generate_transfer_code":
		req = GenerateTransferCodeRequest{}
	case "check_transfer_code":
		req, err = decodeAs[CheckTransferCodeRequest](body)
	case "register_subscription":
		req, err = decodeAs[RegisterSubscriptionRequest](body)
	case "get_thread_settings":
		req, err = decodeAs[GetThreadSettingsRequest](body)
	case "update_thread_title":
		req, err = decodeAs[UpdateThreadTitleRequest](body)
	case "add_thread_member":
		req, err = decodeAs[AddThreadMemberRequest](body)
	case "remove_thread_member":
		req, err = decodeAs[RemoveThreadMemberRequest](body)
	case "generate_invite_token":
		req, err = decodeAs[GenerateInviteTokenRequest](body)
	case "join_with_invite":
		req, err = decodeAs[JoinWithInviteRequest](body)
	case "summarize_thread":
		req, err = decodeAs[SummarizeThreadRequest](body)
	default:
		return nil, unknownActionError(action)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func decodeAs[T Request](body []byte) (Request, error) {
	var target T
	if err := json.Unmarshal(body, &target); err != nil {
		return nil, validationError(CodeInvalidBody)
	}
	return target, nil
}
