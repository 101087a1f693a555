package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/omnidesk/omnidesk/internal/observability"
)

// Apology is returned whenever generation fails. The conversation must
// always get some reply while automation is active; errors never propagate
// to the contact.
const Apology = "Desculpe, o sistema está processando muitas informações. Pode repetir a última mensagem ou enviar em texto? 🙏"

// DefaultSystemPrompt is the triage persona. Config may override it, but the
// report protocol paragraph must survive any rewrite or tickets stop being
// filed.
const DefaultSystemPrompt = `IDENTIDADE: Você é a triadora do atendimento OmniDesk. Seja cordial, objetiva e profissional.

FLUXO: entenda o problema principal, faça UMA pergunta por vez e encerre quando tiver o mínimo para um atendente humano analisar.

MULTIMODALIDADE: se receber áudio, ouça e responda como se fosse texto; se receber imagem ou documento, confirme o recebimento e extraia as informações relevantes.

RELATÓRIO (CRÍTICO): ao encerrar a triagem, diga sua despedida e IMEDIATAMENTE DEPOIS gere um bloco oculto exatamente assim, sem formatação markdown:

[REPORT_START]
{
  "cliente": "Nome identificado",
  "tema": "Tema principal do caso",
  "interpretacao": "Resumo técnico do caso",
  "atencao": "Pontos de urgência",
  "sugestao": "Próximo passo sugerido",
  "prioridade": "low | medium | high"
}
[REPORT_END]

REGRA FINAL: não use blocos de código; apenas as tags [REPORT_START] e [REPORT_END].`

// Options configures an Engine.
type Options struct {
	// SystemPrompt overrides DefaultSystemPrompt when non-empty.
	SystemPrompt string
	// MemoryLimit / MemoryKeep bound the per-conversation transcript.
	MemoryLimit int
	MemoryKeep  int
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Engine turns (message text + optional media + conversation memory) into a
// reply. It is stateless per call apart from the memory window.
type Engine struct {
	provider Provider
	window   *Window
	system   string
	log      *slog.Logger
	metrics  *observability.Metrics
}

// New creates an Engine on the given provider.
func New(provider Provider, opts Options) *Engine {
	system := opts.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider: provider,
		window:   NewWindow(opts.MemoryLimit, opts.MemoryKeep),
		system:   system,
		log:      logger.With("component", "assistant"),
		metrics:  opts.Metrics,
	}
}

// Generate produces the raw assistant response for one inbound turn.
//
// The returned string still contains any handoff report block — stripping it
// for the contact is the triage pipeline's job. What goes into conversation
// memory, however, is the stripped text, so the model is never re-fed its own
// hidden JSON. On any failure the fixed apology is returned instead of an
// error.
func (e *Engine) Generate(ctx context.Context, text, conversationID, mediaPath string) string {
	userText := text
	if userText == "" {
		userText = "[Arquivo de Mídia enviado]"
	}

	req := Request{
		System: e.system,
		Prompt: e.buildPrompt(conversationID, userText, mediaPath != ""),
	}
	if mediaPath != "" {
		data, err := os.ReadFile(mediaPath)
		if err != nil {
			e.log.Warn("media unreadable, generating from text only",
				"path", mediaPath, "error", err)
		} else {
			req.MediaData = data
			req.MediaMIME = mimeTypeOf(mediaPath)
		}
	}

	start := time.Now()
	raw, err := e.provider.Complete(ctx, req)
	if e.metrics != nil {
		e.metrics.AssistantDuration.WithLabelValues(e.provider.Name()).
			Observe(time.Since(start).Seconds())
	}
	if err != nil {
		e.log.Error("generation failed, replying with apology",
			"conversation", conversationID, "error", err)
		return Apology
	}

	e.window.Append(conversationID, userText, StripReport(raw))
	return raw
}

// Forget drops the memory for one conversation (contact deleted).
func (e *Engine) Forget(conversationID string) {
	e.window.Reset(conversationID)
}

func (e *Engine) buildPrompt(conversationID, userText string, hasMedia bool) string {
	prompt := "--- HISTÓRICO RECENTE ---\n" + e.window.Transcript(conversationID)
	prompt += fmt.Sprintf("\n\nCliente (Mensagem Atual): %q\n", userText)
	if hasMedia {
		prompt += "\n(O cliente enviou o arquivo anexo. Analise o conteúdo dele junto com o texto.)\n"
	}
	prompt += "\nAssistente:"
	return prompt
}

func mimeTypeOf(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
