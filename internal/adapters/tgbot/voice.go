package tgbot

// Голосовые заметки: скачиваем документ через gotd downloader и отдаём байты
// транскрайберу. Текст транскрипции попадает в конверт наравне с обычным
// сообщением, дальше пайплайн разницы не видит (кроме флага Voice).

import (
	"bytes"
	"context"
	"time"

	"second-brain/internal/shared/fault"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
)

const (
	// maxVoiceBytes — предел размера голосовой заметки. Больше — не личная
	// заметка, а подкаст; такое не транскрибируем.
	maxVoiceBytes    = 20 << 20
	downloadTimeout  = 2 * time.Minute
	defaultVoiceMIME = "audio/ogg"
)

// voiceDocument возвращает документ голосовой заметки, если сообщение её содержит.
func voiceDocument(msg *tg.Message) (*tg.Document, bool) {
	media, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok {
		return nil, false
	}
	doc, ok := media.Document.(*tg.Document)
	if !ok {
		return nil, false
	}
	for _, attr := range doc.Attributes {
		if audio, ok := attr.(*tg.DocumentAttributeAudio); ok && audio.Voice {
			return doc, true
		}
	}
	return nil, false
}

// transcribeVoice скачивает заметку и превращает её в текст.
func (c *Client) transcribeVoice(ctx context.Context, doc *tg.Document) (string, error) {
	if c.opts.Transcriber == nil {
		return "", fault.New(fault.KindConfig, "tgbot: transcriber is not configured")
	}
	if doc.Size > maxVoiceBytes {
		return "", fault.Newf(fault.KindValidation, "tgbot: voice note too large: %d bytes", doc.Size)
	}

	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	var buf bytes.Buffer
	_, err := downloader.NewDownloader().Download(c.client.API(), &tg.InputDocumentFileLocation{
		ID:            doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
	}).Stream(dlCtx, &buf)
	if err != nil {
		return "", errors.Wrap(err, "download voice")
	}

	mime := doc.MimeType
	if mime == "" {
		mime = defaultVoiceMIME
	}
	return c.opts.Transcriber.Transcribe(ctx, buf.Bytes(), mime)
}
