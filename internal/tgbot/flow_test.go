package tgbot

import (
	"context"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"meetup-bot/internal/config"
	"meetup-bot/internal/models"
)

func TestRegistrationTimeoutPersistsNothing(t *testing.T) {
	h := newHarness(t, earlyDay, func(c *config.Config) { c.PromptTimeout = 300 * time.Millisecond })
	const user int64 = 1

	h.say(user, "/start")
	h.expect(user, "В каком городе")
	h.expect(user, "Время ожидания истекло")
	if _, ok := h.store.user(user); ok {
		t.Fatal("user persisted after timeout")
	}

	// time out halfway through
	h.say(user, "/start")
	h.expect(user, "В каком городе")
	h.press(user, user, cbCity+string(models.CityMoscow), 1)
	h.expect(user, "Как вас зовут")
	h.say(user, "Иванов Иван")
	h.expect(user, "год выпуска")
	h.expect(user, "Время ожидания истекло")
	if _, ok := h.store.user(user); ok {
		t.Fatal("user persisted after timeout")
	}
}

func TestPiterRegistrationSkipsPayment(t *testing.T) {
	h := newHarness(t, earlyDay, nil)
	const user int64 = 2

	h.register(user, models.CityPiter, "Петров Пётр", "2008 В")
	h.expectKind(user, "photo", "пропуск")
	h.expectNone(user, "Пришлите скриншот", 150*time.Millisecond)

	u, ok := h.store.user(user)
	if !ok {
		t.Fatal("user not saved")
	}
	if u.PaymentStatus != models.StatusNotRequired || u.City != models.CityPiter {
		t.Fatalf("user = %+v", u)
	}
	if u.GraduationYear != 2008 || u.ClassLetter != "В" {
		t.Fatalf("graduation = %d %q", u.GraduationYear, u.ClassLetter)
	}
	if len(h.store.paymentsOf(user)) != 0 {
		t.Fatal("payment created for a free registration")
	}
}

func TestMoscowAmountDependsOnCutoff(t *testing.T) {
	t.Run("early", func(t *testing.T) {
		h := newHarness(t, earlyDay, nil)
		h.register(3, models.CityMoscow, "Иванов Иван", "2020 А")
		h.expect(3, "Минимальный взнос при ранней оплате (до 15 Марта): 1000 руб. После 15 Марта: 2000 руб.")
		h.expect(3, "Пришлите скриншот")
	})
	t.Run("late", func(t *testing.T) {
		h := newHarness(t, lateDay, nil)
		h.register(3, models.CityMoscow, "Иванов Иван", "2020 А")
		h.expect(3, "Минимальный взнос: 2000 руб.")
		h.expectNone(3, "ранней оплате", 50*time.Millisecond)
	})
}

func TestTeacherRegistersForFree(t *testing.T) {
	h := newHarness(t, earlyDay, nil)
	const user int64 = 4
	h.register(user, models.CityMoscow, "Сидорова Анна", "/i_am_a_teacher")
	h.expectKind(user, "photo", "пропуск")
	h.expectNone(user, "Пришлите скриншот", 100*time.Millisecond)

	u, _ := h.store.user(user)
	if u.GraduateType != models.GraduateTypeTeacher || u.PaymentStatus != models.StatusNotRequired {
		t.Fatalf("user = %+v", u)
	}
}

func TestInvalidNameGetsOneRetry(t *testing.T) {
	h := newHarness(t, earlyDay, nil)
	const user int64 = 5

	h.say(user, "/start")
	h.expect(user, "В каком городе")
	h.press(user, user, cbCity+string(models.CityPerm), 1)
	h.expect(user, "Как вас зовут")
	h.say(user, "Ivan Ivanov")
	h.expect(user, "По-русски, пожалуйста")
	h.say(user, "Иван")
	end := h.expect(user, "хотя бы имя и фамилию")
	if !strings.Contains(end.Text, "/start") {
		t.Fatalf("final message lacks restart hint: %q", end.Text)
	}
	if _, ok := h.store.user(user); ok {
		t.Fatal("user persisted after invalid input")
	}
}

func TestClassLetterAskedSeparately(t *testing.T) {
	h := newHarness(t, earlyDay, nil)
	const user int64 = 6

	h.say(user, "/start")
	h.expect(user, "В каком городе")
	h.press(user, user, cbCity+string(models.CityPerm), 1)
	h.expect(user, "Как вас зовут")
	h.say(user, "Смирнов Олег")
	h.expect(user, "год выпуска")
	h.say(user, "2010")
	h.expect(user, "А букву класса?")
	h.say(user, "АБ")
	h.expect(user, "только одним символом")
	h.say(user, "б")
	h.expect(user, "Вы зарегистрированы")

	u, _ := h.store.user(user)
	if u.ClassLetter != "Б" || u.GraduationYear != 2010 {
		t.Fatalf("user = %+v", u)
	}
}

func TestPayLater(t *testing.T) {
	h := newHarness(t, earlyDay, nil)
	const user int64 = 7
	h.register(user, models.CityPerm, "Кузнецов Дмитрий", "2015 Г")
	prompt := h.expect(user, "Пришлите скриншот")
	if data := prompt.buttonData(); len(data) != 1 || data[0] != cbPayLater {
		t.Fatalf("buttons = %v", data)
	}
	h.press(user, user, cbPayLater, prompt.ID)
	h.expect(user, "Вы можете оплатить позже")

	ps := h.store.paymentsOf(user)
	if len(ps) != 1 || ps[0].Status != models.StatusPending {
		t.Fatalf("payments = %+v", ps)
	}
	// Perm, 2015: 500 + 100*10 = 1500, minus the early discount
	if ps[0].MinimumAmount != 1000 {
		t.Fatalf("minimum = %d", ps[0].MinimumAmount)
	}

	// /pay reuses the pending payment
	h.say(user, "/pay")
	h.expect(user, "Пришлите скриншот")
	h.sendPhoto(user)
	h.expect(user, "находится на проверке")
	ps = h.store.paymentsOf(user)
	if len(ps) != 1 || ps[0].Status != models.StatusSubmitted {
		t.Fatalf("payments = %+v", ps)
	}
}

func TestProofMustBeAFile(t *testing.T) {
	h := newHarness(t, earlyDay, nil)
	const user int64 = 8
	h.register(user, models.CityMoscow, "Орлов Максим", "2020 А")
	h.expect(user, "Пришлите скриншот")
	h.say(user, "я оплатил")
	h.expect(user, "отправьте скриншот (фото) или PDF")
	h.message(user, user, "", func(m *tgbotapi.Message) {
		m.Document = &tgbotapi.Document{FileID: "doc1", FileName: "check.pdf", MimeType: "application/pdf"}
	})
	h.expect(user, "находится на проверке")
	proof := h.expectKind(eventsChat, "document", "Орлов Максим")
	if !strings.Contains(proof.Text, "Минимальный взнос: 1000 руб.") {
		t.Fatalf("caption = %q", proof.Text)
	}

	ps := h.store.paymentsOf(user)
	if len(ps) != 1 || ps[0].File == nil || ps[0].File.Kind != models.FilePDF {
		t.Fatalf("payments = %+v", ps)
	}
}

// slowSubmitStore delays SubmitPayment and gives up when ctx is done, like a
// real database call would.
type slowSubmitStore struct {
	*memStore
	delay time.Duration
}

func (s slowSubmitStore) SubmitPayment(ctx context.Context, id string, sub models.Submission) (*models.Payment, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.memStore.SubmitPayment(ctx, id, sub)
}

func TestCommandDuringSubmitKeepsProof(t *testing.T) {
	h := newHarnessWith(t, earlyDay, nil, func(m *memStore) Store {
		return slowSubmitStore{memStore: m, delay: 100 * time.Millisecond}
	})
	const user int64 = 40

	h.register(user, models.CityMoscow, "Соколов Павел", "2020 А")
	h.expect(user, "Пришлите скриншот")
	h.sendPhoto(user)
	proof := h.expectKind(eventsChat, "photo", "Соколов Павел")
	h.say(user, "/status")

	h.expect(user, "находится на проверке")
	h.expect(user, "Ваша регистрация")
	h.expectNone(user, "Сервис временно недоступен", 50*time.Millisecond)

	ps := h.store.paymentsOf(user)
	if len(ps) != 1 || ps[0].Status != models.StatusSubmitted {
		t.Fatalf("payments = %+v", ps)
	}
	if want := (models.MessageRef{ChatID: eventsChat, MessageID: proof.ID}); len(ps[0].ValidationMessages) != 1 || ps[0].ValidationMessages[0] != want {
		t.Fatalf("validation messages = %+v, proof = %d", ps[0].ValidationMessages, proof.ID)
	}
	if u, _ := h.store.user(user); u.PaymentStatus != models.StatusSubmitted {
		t.Fatalf("user status = %s", u.PaymentStatus)
	}

	h.press(eventsChat, adminID, cbValidate+ps[0].ID, proof.ID)
	h.expect(eventsChat, "Введите сумму платежа")
	h.message(eventsChat, adminID, "-", nil)
	h.expect(user, "подтвержден! Сумма: 1000 руб.")
}

func TestButtonOnUnsubmittedPayment(t *testing.T) {
	h := newHarness(t, earlyDay, nil)
	const user int64 = 41

	h.register(user, models.CityPerm, "Кузнецов Дмитрий", "2015 Г")
	prompt := h.expect(user, "Пришлите скриншот")
	h.press(user, user, cbPayLater, prompt.ID)
	h.expect(user, "Вы можете оплатить позже")

	id := h.store.paymentsOf(user)[0].ID
	h.press(eventsChat, adminID, cbValidate+id, 1)
	h.expect(eventsChat, "ещё не отправлен на проверку")
	h.expectNone(eventsChat, "уже обработан", 50*time.Millisecond)
}
