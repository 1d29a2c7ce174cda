package validations

import (
	"context"
	"fmt"
	"regexp"

	"github.com/AzielCF/az-recruit/crm/domain/message"
	pkgError "github.com/AzielCF/az-recruit/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const MaxBatchSize = 100

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{8,20}$`)

func ValidateWebhookRequest(ctx context.Context, request message.WebhookRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Messages, validation.Required, validation.Length(1, MaxBatchSize)),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	for i := range request.Messages {
		if err := ValidateInbound(ctx, request.Messages[i]); err != nil {
			return pkgError.ValidationError(fmt.Sprintf("messages[%d]: %s", i, err.Error()))
		}
	}
	return nil
}

func ValidateInbound(ctx context.Context, in message.Inbound) error {
	isText := in.Type == "" || in.Type == message.TypeText
	err := validation.ValidateStructWithContext(ctx, &in,
		validation.Field(&in.MessageID, validation.Required, validation.Length(1, 256)),
		validation.Field(&in.SenderPhone, validation.Required, validation.Match(phonePattern)),
		validation.Field(&in.Type, validation.In(message.Types...)),
		validation.Field(&in.Content, validation.When(isText, validation.Required)),
		validation.Field(&in.MediaRef, validation.When(!isText, validation.Required)),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	return nil
}
