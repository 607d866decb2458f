package queue

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/models"
)

// AddSessionPayload is the data of an add_session mutation.
type AddSessionPayload struct {
	Date    string         `json:"date"`
	Session models.Session `json:"session"`
}

// DeleteSessionPayload is the data of a delete_session mutation.
type DeleteSessionPayload struct {
	Date             string `json:"date"`
	SessionTimestamp int64  `json:"sessionTimestamp"`
}

// CreateTagPayload is the data of a create_tag mutation.
type CreateTagPayload struct {
	Tag models.Tag `json:"tag"`
}

// DeleteTagPayload is the data of a delete_tag mutation.
type DeleteTagPayload struct {
	TagID string `json:"tagId"`
}

// DecodePayload decodes item.Data into the payload type matching item.Type.
// The result is one of the *Payload pointer types in this package.
func DecodePayload(item *models.QueueItem) (interface{}, error) {
	var dst interface{}
	switch item.Type {
	case models.MutationAddSession:
		dst = &AddSessionPayload{}
	case models.MutationDeleteSession:
		dst = &DeleteSessionPayload{}
	case models.MutationCreateTag:
		dst = &CreateTagPayload{}
	case models.MutationDeleteTag:
		dst = &DeleteTagPayload{}
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown mutation type %q", item.Type)
	}

	if err := json.Unmarshal(item.Data, dst); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, fmt.Sprintf("decode %s payload", item.Type), err)
	}
	if err := validate(dst); err != nil {
		return nil, err
	}
	return dst, nil
}

func validate(payload interface{}) error {
	switch p := payload.(type) {
	case *AddSessionPayload:
		if p.Date == "" {
			return apperrors.New(apperrors.ErrInvalid, "add_session payload missing date")
		}
	case *DeleteSessionPayload:
		if p.Date == "" {
			return apperrors.New(apperrors.ErrInvalid, "delete_session payload missing date")
		}
	case *CreateTagPayload:
		if p.Tag.ID == "" {
			return apperrors.New(apperrors.ErrInvalid, "create_tag payload missing tag id")
		}
	case *DeleteTagPayload:
		if p.TagID == "" {
			return apperrors.New(apperrors.ErrInvalid, "delete_tag payload missing tag id")
		}
	}
	return nil
}
