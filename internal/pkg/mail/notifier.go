package mail

import (
	"fmt"

	"github.com/hanflix/billing/app/models"
)

// Notifier is the outbound notification port of the billing core. Both
// notices are fire-and-forget: callers log a failure and move on.
type Notifier interface {
	SendCancelAtPeriodEnd(user *models.User, sub *models.Subscription) error
	SendCanceledDueToDunning(user *models.User, sub *models.Subscription) error
}

// SMTPNotifier sends billing notices through the shared SMTP mailer.
type SMTPNotifier struct{}

func NewSMTPNotifier() *SMTPNotifier {
	return &SMTPNotifier{}
}

func (n *SMTPNotifier) SendCancelAtPeriodEnd(user *models.User, sub *models.Subscription) error {
	subject := "구독 해지 예약 안내"
	body := fmt.Sprintf(
		"<p>%s님, 구독 해지가 예약되었습니다.</p><p>%s 플랜은 %s까지 이용하실 수 있으며 이후 자동으로 종료됩니다.</p>",
		user.Name, sub.PlanCode, sub.EndAt.Format("2006-01-02"),
	)
	return SendMail(user.Email, subject, body)
}

func (n *SMTPNotifier) SendCanceledDueToDunning(user *models.User, sub *models.Subscription) error {
	subject := "결제 실패로 구독이 해지되었습니다"
	body := fmt.Sprintf(
		"<p>%s님, %s 플랜의 정기 결제가 %d회 연속 실패하여 구독이 해지되었습니다.</p><p>결제 수단을 확인하신 뒤 다시 구독해 주세요.</p>",
		user.Name, sub.PlanCode, sub.MaxRetry,
	)
	return SendMail(user.Email, subject, body)
}
