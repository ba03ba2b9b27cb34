package ai

import (
	"fmt"
	"time"
)

// BuildingStatusPrompt asks the model to classify a listing description by
// its Act 14/15/16 completion milestones. The prompt is in the market's
// language so the model reads the description natively.
func BuildingStatusPrompt(description string, today time.Time) string {
	return fmt.Sprintf(`Ти си експерт в анализите на обяви за недвижими имоти. Следният текст е от обява за апартамент в София.

Описание: %s

Анализирай описанието на този имот и разбери дали сградата е в строеж или е въведена в експлоатация. Това става като се споменава акт 14, акт 15 и акт 16.

Rules:
1. Бъдещи дати означава, че се планира завършване на сградата, например "ще бъде завършена през март 2025", "очаква се акт 16 през март". Това значи, че сградата не е въведена в експлоатация и няма получен акт 16.
2. "пред акт 16" означава, че се очаква акт 16 скоро. Това значи, че има акт 15 и няма акт 16. Същото важи и за "С акт 15".
3. Разрешение за ползване означава, че сградата има акт 16 и е въведена в експлоатация.
4. Извлечи всички споменати дати за Акт 16 ако има такива и има акт 14 или акт 15.
5. Фаза Акт 14 означава, че има получен акт 14 и няма акт 16.

Задължително отговаряй с този формат без да коментираш излишно и не добавяй излишни полета и символи:
HAS_ACT16: true/false
PLAN_DATE: [YYYY-MM-DD or none if not found]
STATUS: [едно от: completed/in_progress/planned]
DETAILS: [кратко описание]

Не може да има акт 14 и акт 16 или акт 14 и акт 15, те са един след друг. Ако в текста е споменато, че има акт 14 и се очаква акт 16, тогава има акт 14 и няма акт 16.

Използвай днешната дата за да сравняваш бъдещите дати ако са споменати: %s`,
		description, today.Format("2006-01-02"))
}

// ImageAnalysisPrompt asks the vision model to classify the listing's
// first photo.
func ImageAnalysisPrompt() string {
	return `Analyze this property image and determine:
1. Is it renovated? Look for signs of recent renovation like modern finishes, new paint, updated fixtures.
   Exclude furniture from this assessment.
2. Is it furnished? Look for presence of furniture, appliances, and decor.
3. Is it an interior shot of the property (as opposed to a facade, floor plan or street view)?

Respond in this exact format:
RENOVATED: true/false
FURNISHED: true/false
INTERIOR: true/false
CONFIDENCE: high/medium/low`
}
