package tgbot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"meetup-bot/internal/conversation"
	"meetup-bot/internal/models"
)

const hintFeedback = "Чтобы пройти опрос заново, нажмите /feedback."

// rating is one 1 to 5 question of the survey.
type rating struct {
	question string
	low      string
	high     string
	set      func(f *models.Feedback, v int)
}

var feedbackRatings = []rating{
	{
		question: "Насколько вероятно, что ты порекомендуешь встречу выпускников друзьям?",
		low:      "точно нет",
		high:     "обязательно",
		set:      func(f *models.Feedback, v int) { f.Recommendation = v },
	},
	{
		question: "Как тебе площадка?",
		low:      "совсем не понравилась",
		high:     "отличная",
		set:      func(f *models.Feedback, v int) { f.VenueRating = v },
	},
	{
		question: "Как тебе еда и напитки?",
		low:      "плохо",
		high:     "очень вкусно",
		set:      func(f *models.Feedback, v int) { f.FoodRating = v },
	},
	{
		question: "Как тебе развлекательная программа?",
		low:      "скучно",
		high:     "очень понравилась",
		set:      func(f *models.Feedback, v int) { f.EntertainmentRating = v },
	},
}

func (r rating) choices() []choice {
	out := make([]choice, 0, 5)
	for v := 1; v <= 5; v++ {
		label := strconv.Itoa(v)
		switch v {
		case 1:
			label += " - " + r.low
		case 5:
			label += " - " + r.high
		}
		out = append(out, choice{Key: strconv.Itoa(v), Label: label})
	}
	return out
}

// feedbackFlow runs the post-meetup survey and stores the answers.
func (a *App) feedbackFlow(s *conversation.Session, r request) error {
	timeout := a.cfg.PromptTimeout
	fb := &models.Feedback{UserID: r.From.ID, Username: r.From.UserName}

	if err := s.Say("Привет! Расскажи, пожалуйста, как прошла встреча выпускников. Это займёт пару минут."); err != nil {
		return external(serviceTelegram, err)
	}
	attended, err := askChoice(s, "Ты был(а) на встрече выпускников?", cbFeedback, []choice{
		{Key: "yes", Label: "Да"},
		{Key: "no", Label: "Нет"},
		{Key: "skip", Label: "Не хочу отвечать"},
	}, timeout, hintFeedback)
	if err != nil {
		return err
	}
	if attended == "skip" {
		return s.Say("Принято! Если передумаешь, нажми /feedback.")
	}
	fb.Attended = attended == "yes"

	if fb.Attended {
		cities := make([]choice, 0, len(models.Cities))
		for _, c := range models.Cities {
			cities = append(cities, choice{Key: string(c), Label: c.Title()})
		}
		city, err := askChoice(s, "В каком городе ты был(а) на встрече?", cbFeedback, cities, timeout, hintFeedback)
		if err != nil {
			return err
		}
		fb.City = models.City(city)

		for _, q := range feedbackRatings {
			key, err := askChoice(s, q.question, cbFeedback, q.choices(), timeout, hintFeedback)
			if err != nil {
				return err
			}
			v, _ := strconv.Atoi(key)
			q.set(fb, v)
		}

		help, err := askChoice(s, "Хотел(а) бы ты помочь с организацией следующей встречи?", cbFeedback, []choice{
			{Key: "yes", Label: "Да"},
			{Key: "no", Label: "Нет"},
			{Key: "maybe", Label: "Возможно"},
		}, timeout, hintFeedback)
		if err != nil {
			return err
		}
		fb.WillingToHelp = help

		if fb.Comment, err = a.askOptional(s, "Есть ли у тебя комментарии или пожелания? Напиши их ответом или отправь «-»."); err != nil {
			return err
		}
	} else if err := s.Say("Жаль, что не получилось прийти! Надеемся увидеть тебя на следующей встрече."); err != nil {
		return external(serviceTelegram, err)
	}

	fb.ClubInterest, err = a.askOptional(s, "Хочешь участвовать в других проектах выпускников? Напиши, чем хотел(а) бы заниматься, или отправь «-».")
	if err != nil {
		return err
	}

	fb.CreatedAt = a.now()
	// the answers are all in, so save them even if another command starts now
	if err := a.store.SaveFeedback(context.WithoutCancel(s.Context()), fb); err != nil {
		return external(serviceDB, err)
	}
	a.logger.Info("feedback saved",
		zap.Int64("user_id", fb.UserID),
		zap.Bool("attended", fb.Attended),
		zap.String("city", string(fb.City)),
	)
	return s.Say("Спасибо за ответы! Они помогут сделать следующую встречу лучше.")
}

// askOptional asks for free text. "-", a non-text answer or silence mean
// nothing to add.
func (a *App) askOptional(s *conversation.Session, text string) (string, error) {
	reply, err := s.Ask(tgbotapi.NewMessage(s.Key().ChatID, text), a.cfg.PromptTimeout)
	if err != nil {
		return "", err
	}
	ans, ok := reply.Answer()
	if !ok {
		return "", nil
	}
	v := strings.TrimSpace(ans.Text)
	if v == "-" || answerCommand(ans) != "" {
		return "", nil
	}
	return v, nil
}
