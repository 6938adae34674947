// Package extract — извлечение сущностей (люди, места, даты) из свободного
// текста. Чистые функции на регулярных выражениях и эвристиках: никаких
// сетевых вызовов и обращений к LLM. Стратегии упорядочены по убыванию
// приоритета; у каждой — своя базовая уверенность 0–100. Реестр выражений
// объявлен данными, чтобы стратегии тестировались и расширялись без правок
// кода стратегий.
package extract

import (
	"regexp"
	"strings"

	"second-brain/internal/domain/timeparse"
)

// Базовые уверенности стратегий по убыванию приоритета.
const (
	confWith       = 90 // «with <Имя>»
	confActionVerb = 85 // «call|email|… <Имя>»
	confBareProper = 60 // имя собственное без маркера
	confPlace      = 80 // «at|near|… <Место>»
)

// Candidate — извлечённый кандидат с уверенностью и контекстом (фрагмент
// текста, из которого он взят).
type Candidate struct {
	Name       string
	Confidence int
	Context    string
}

// Entities — результат извлечения из одного сообщения.
type Entities struct {
	People []Candidate
	Places []Candidate
	Dates  []timeparse.Result
}

// Реестр стратегий. Имена пишутся с заглавной буквы, поэтому все выражения
// ловят последовательности капитализированных слов (ProperPhrase).
// Маркеры регистронезависимы ((?i:…) замкнут на них), а захватываемые имена —
// нет: фолдинг регистра в классе [A-Z] сломал бы саму стратегию капитализации.
var (
	reWithPerson  = regexp.MustCompile(`(?i:\bwith)\s+([A-ZА-ЯЁ][\wа-яё'-]*(?:\s+[A-ZА-ЯЁ][\wа-яё'-]*)?)`)
	reActionVerb  = regexp.MustCompile(`(?i:\b(call|email|text|meet|see|contact|tell|ask))\s+([A-ZА-ЯЁ][\wа-яё'-]*(?:\s+[A-ZА-ЯЁ][\wа-яё'-]*)?)`)
	rePlaceMarker = regexp.MustCompile(`(?i:\b(?:meet at|going to|heading to|at|near|by|around))\s+((?:[Tt]he\s+)?[A-ZА-ЯЁ][\wа-яё'-]*(?:\s+[A-ZА-ЯЁ][\wа-яё'-]*){0,3})`)
	reProperWord  = regexp.MustCompile(`[A-ZА-ЯЁ][\wа-яё'-]*`)
	reSentenceCut = regexp.MustCompile(`[.!?\n]+`)
)

// stopwords — слова, которые капитализируются, но людьми не являются:
// дни недели, месяцы, слова времени суток и относительные дни.
var stopwords = buildSet(
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"january", "february", "march", "april", "may", "june", "july",
	"august", "september", "october", "november", "december",
	"morning", "afternoon", "evening", "night", "noon", "midnight",
	"today", "tomorrow", "yesterday", "tonight", "week", "weekend", "month",
	"am", "pm",
)

// precededBlockers — артикли и предлоги, после которых имя собственное скорее
// означает место или объект, чем человека (эти случаи закрывают стратегии мест).
var precededBlockers = buildSet(
	"a", "an", "the", "at", "in", "on", "to", "from", "near", "by", "around", "of", "for",
)

func buildSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// Extract разбирает текст и возвращает кандидатов. Парсер нужен только
// стратегии дат; остальные стратегии детерминированы по тексту. nil-парсер
// отключает извлечение дат.
func Extract(text string, parser *timeparse.Parser) Entities {
	var out Entities

	seenPeople := make(map[string]int) // нормализованное имя -> индекс в out.People
	seenPlaces := make(map[string]int)

	addPerson := func(name string, conf int, context string) {
		name = strings.TrimSpace(name)
		if name == "" || stopwords[strings.ToLower(firstWord(name))] {
			return
		}
		key := strings.ToLower(name)
		if i, ok := seenPeople[key]; ok {
			if conf > out.People[i].Confidence {
				out.People[i].Confidence = conf
				out.People[i].Context = context
			}
			return
		}
		seenPeople[key] = len(out.People)
		out.People = append(out.People, Candidate{Name: name, Confidence: conf, Context: context})
	}

	addPlace := func(name string, conf int, context string) {
		name = strings.TrimSpace(strings.TrimPrefix(name, "the "))
		name = strings.TrimSpace(strings.TrimPrefix(name, "The "))
		if name == "" || stopwords[strings.ToLower(firstWord(name))] {
			return
		}
		key := strings.ToLower(name)
		if i, ok := seenPlaces[key]; ok {
			if conf > out.Places[i].Confidence {
				out.Places[i].Confidence = conf
				out.Places[i].Context = context
			}
			return
		}
		seenPlaces[key] = len(out.Places)
		out.Places = append(out.Places, Candidate{Name: name, Confidence: conf, Context: context})
	}

	// Стратегия 1: «with <Имя>».
	for _, m := range reWithPerson.FindAllStringSubmatch(text, -1) {
		addPerson(m[1], confWith, m[0])
	}

	// Стратегия 2: глагол действия перед именем.
	for _, m := range reActionVerb.FindAllStringSubmatch(text, -1) {
		addPerson(m[2], confActionVerb, m[0])
	}

	// Стратегия 4: маркеры мест. Выполняется до «голых» имён, чтобы место
	// не засчиталось человеком: имена после предлогов блокируются ниже.
	for _, m := range rePlaceMarker.FindAllStringSubmatch(text, -1) {
		addPlace(m[1], confPlace, m[0])
	}

	// Стратегия 3: имя собственное без маркера — не в начале предложения,
	// не стоп-слово, не после артикля или предлога. Слова, уже вошедшие в
	// многословные имена маркерных стратегий («Sarah Chen», «Blue Bottle»),
	// повторно не засчитываются.
	for _, cand := range bareProperNouns(text) {
		if wordCovered(out.Places, cand.Name) || wordCovered(out.People, cand.Name) {
			continue
		}
		addPerson(cand.Name, confBareProper, cand.Context)
	}

	// Стратегия 5: фрагменты дат.
	if parser != nil {
		if res, ok := parser.Parse(text); ok {
			out.Dates = append(out.Dates, res)
		}
	}

	return out
}

// bareProperNouns ищет капитализированные слова внутри предложений.
// Первое слово каждого предложения пропускается: капитализация там не сигнал.
func bareProperNouns(text string) []Candidate {
	var out []Candidate

	for _, sentence := range reSentenceCut.Split(text, -1) {
		words := strings.Fields(sentence)
		for i := 1; i < len(words); i++ {
			word := strings.Trim(words[i], `.,!?;:'"`)
			if !reProperWord.MatchString(word) || !startsUpper(word) {
				continue
			}
			if stopwords[strings.ToLower(word)] {
				continue
			}
			prev := strings.ToLower(strings.Trim(words[i-1], `.,!?;:'"`))
			if precededBlockers[prev] {
				continue
			}
			out = append(out, Candidate{Name: word, Context: sentence})
		}
	}
	return out
}

func startsUpper(s string) bool {
	if s == "" {
		return false
	}
	r := []rune(s)[0]
	return strings.ToUpper(string(r)) == string(r) && strings.ToLower(string(r)) != string(r)
}

// wordCovered сообщает, входит ли слово целиком в одно из уже извлечённых имён.
func wordCovered(cands []Candidate, word string) bool {
	w := strings.ToLower(word)
	for _, c := range cands {
		for _, part := range strings.Fields(strings.ToLower(c.Name)) {
			if part == w {
				return true
			}
		}
	}
	return false
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

// HasDate сообщает, нашёлся ли в сообщении хотя бы один фрагмент даты.
func (e Entities) HasDate() bool { return len(e.Dates) > 0 }

// FirstDate возвращает первый извлечённый срок.
func (e Entities) FirstDate() (timeparse.Result, bool) {
	if len(e.Dates) == 0 {
		return timeparse.Result{}, false
	}
	return e.Dates[0], true
}

// PeopleNames возвращает имена людей в порядке извлечения.
func (e Entities) PeopleNames() []string {
	names := make([]string, 0, len(e.People))
	for _, p := range e.People {
		names = append(names, p.Name)
	}
	return names
}
