package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kiyo123456/Tatemoku-management/internal/application"
	"github.com/kiyo123456/Tatemoku-management/internal/logging"
)

var (
	errBadRequestBody     = errors.New("無効なリクエスト形式です。")
	errInvalidQuery       = errors.New("検索条件の形式が正しくありません。")
	errMissingToken       = errors.New("認証トークンを指定してください。")
	errMissingGoogleToken = errors.New("X-Google-Token ヘッダーで Google アクセストークンを送信してください。")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	var (
		vErr       *application.ValidationError
		conflict   *application.ConflictError
		invariant  *application.InvariantViolationError
		dependency *application.DependencyError
	)
	switch {
	case errors.Is(err, application.ErrUnauthorized):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{
			ErrorCode: "AUTH_FORBIDDEN",
			Message:   "この操作を実行する権限がありません。",
		})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Message: "指定されたリソースが見つかりません。"})
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			Message: "入力内容に誤りがあります。",
			Errors:  localizeValidationErrors(vErr),
		})
	case errors.As(err, &conflict):
		r.writeJSON(ctx, w, http.StatusConflict, conflictResponse(conflict))
	case errors.As(err, &invariant):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "INVARIANT_VIOLATION",
			Message:   "参加者の所属状態が一致しません。最新の状態を読み込んでから再度お試しください。",
			Reason:    invariant.Reason,
		})
	case errors.As(err, &dependency):
		if dependency.Retryable {
			w.Header().Set("Retry-After", "5")
		}
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{
			ErrorCode: "DEPENDENCY_UNAVAILABLE",
			Message:   "外部サービスに接続できませんでした。しばらくしてから再度お試しください。",
			Retryable: dependency.Retryable,
		})
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "サーバー内部でエラーが発生しました。"})
	}
}

func conflictResponse(conflict *application.ConflictError) errorResponse {
	switch conflict.Reason {
	case application.ConflictVersion:
		current := conflict.CurrentVersion
		return errorResponse{
			ErrorCode:      "VERSION_CONFLICT",
			Message:        "他のユーザーが先に更新しました。最新の状態を読み込んでから再度お試しください。",
			CurrentVersion: &current,
		}
	case application.ConflictCapacity:
		capacity, members, current := conflict.Capacity, conflict.Members, conflict.CurrentVersion
		return errorResponse{
			ErrorCode:      "CAPACITY_EXCEEDED",
			Message:        fmt.Sprintf("グループの定員（%d 名）に達しています。", conflict.Capacity),
			CurrentVersion: &current,
			Capacity:       &capacity,
			Members:        &members,
		}
	}
	return errorResponse{ErrorCode: "DUPLICATE", Message: "同じ内容のデータが既に存在します。"}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusUnauthorized:
		return "認証が必要です。"
	case http.StatusForbidden:
		return "この操作を実行する権限がありません。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	case http.StatusUnprocessableEntity:
		return "入力内容に誤りがあります。"
	case http.StatusServiceUnavailable:
		return "サービスを一時的に利用できません。"
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

func localizeValidationErrors(vErr *application.ValidationError) map[string]string {
	if vErr == nil || len(vErr.FieldErrors) == 0 {
		return nil
	}

	translated := make(map[string]string, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		translated[field] = translateValidationMessage(msg)
	}
	return translated
}

var validationMessages = map[string]string{
	"participant id is required":                      "参加者 ID は必須です。",
	"participant ids must not be blank":               "空の参加者 ID は指定できません。",
	"at least one participant is required":            "少なくとも 1 名の参加者を指定してください。",
	"either a source or a destination is required":    "移動元または移動先を指定してください。",
	"version must be positive":                        "バージョンは正の整数で指定してください。",
	"kind must be group, subgroup or session_group":   "種別は group、subgroup、session_group のいずれかを指定してください。",
	"container id is required":                        "グループ ID は必須です。",
	"name is required":                                "名前は必須です。",
	"name must not be blank":                          "名前を空にすることはできません。",
	"parent id is required":                           "親 ID は必須です。",
	"capacity applies to session groups only":         "定員はセッション内グループにのみ設定できます。",
	"capacity must be positive":                       "定員は正の整数で指定してください。",
	"capacity cannot be set and cleared at once":      "定員の設定と解除は同時に指定できません。",
	"no changes requested":                            "変更内容を指定してください。",
	"session id is required":                          "セッション ID は必須です。",
	"title is required":                               "タイトルは必須です。",
	"default capacity must not be negative":           "既定の定員に負の値は指定できません。",
	"display name is required":                        "表示名は必須です。",
	"contact key is required":                         "メールアドレスは必須です。",
	"contact key must be an email address":            "メールアドレスの形式が不正です。",
	"role must be member, admin or super_admin":       "権限は member、admin、super_admin のいずれかを指定してください。",
	"limit must not be negative":                      "取得件数に負の値は指定できません。",
	"offset must not be negative":                     "開始位置に負の値は指定できません。",
	"until must be after since":                       "終了日時は開始日時より後である必要があります。",
	"request violates a storage constraint":           "指定された内容では保存できません。",
	"window start is required":                        "検索開始日時を指定してください。",
	"window end is required":                          "検索終了日時を指定してください。",
	"window start must be before window end":          "検索終了日時は検索開始日時より後である必要があります。",
	"preferred window start must be before end":       "希望時間帯の終了は開始より後である必要があります。",
	"source and destination are both unassigned":      "移動元と移動先の両方が未割り当てです。",
	"source and destination are the same container":   "移動元と移動先が同じグループです。",
	"the unassigned pool only exists inside sessions": "未割り当ての参加者はセッション内にのみ存在します。",
	"must be an RFC 3339 timestamp":                   "日時は RFC 3339 形式（例: 2025-01-06T09:00:00+09:00）で指定してください。",
	"from must be HH:MM":                              "開始時刻は HH:MM 形式で指定してください。",
	"to must be HH:MM":                                "終了時刻は HH:MM 形式で指定してください。",
	"recurrence: invalid frequency":                   "繰り返しの頻度は daily または weekly を指定してください。",
	"recurrence: band start must be before band end":  "繰り返し時間帯の終了は開始より後である必要があります。",
}

func translateValidationMessage(message string) string {
	if translated, ok := validationMessages[message]; ok {
		return translated
	}

	var minutes int
	if _, err := fmt.Sscanf(message, "duration must be at least %d minutes", &minutes); err == nil {
		return fmt.Sprintf("縦もくの時間は%d分以上で指定してください。", minutes)
	}
	switch {
	case strings.HasPrefix(message, "unknown action"):
		return "不明な操作種別が指定されています: " + strings.TrimSpace(strings.TrimPrefix(message, "unknown action"))
	case strings.HasPrefix(message, "cannot move between"):
		return "異なる種別のグループ間では移動できません。"
	case strings.HasPrefix(message, "unknown weekday"):
		return "不明な曜日が指定されています: " + strings.TrimSpace(strings.TrimPrefix(message, "unknown weekday"))
	case strings.HasPrefix(message, "unknown container kind"):
		return "不明なグループ種別です。"
	}
	return message
}

type errorResponse struct {
	ErrorCode      string            `json:"error_code,omitempty"`
	Message        string            `json:"message"`
	Errors         map[string]string `json:"errors,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	CurrentVersion *int64            `json:"currentVersion,omitempty"`
	Capacity       *int              `json:"capacity,omitempty"`
	Members        *int              `json:"members,omitempty"`
	Retryable      bool              `json:"retryable,omitempty"`
}
