// Package extract turns raw memory text into candidate triples for the
// triple store, and provides the cheap pattern-based entity extraction the
// retriever uses at query time. The LLM path is a pure producer: it holds no
// state of its own.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/kioku-ai/kioku/llm"
)

// Candidate is one extracted (subject, predicate, object) fact with optional
// qualifiers (negation, frequency, condition, confidence).
type Candidate struct {
	Subject   string
	Predicate string
	Object    string
	Metadata  map[string]string
}

const extractionPrompt = `从以下文本中提取关键的事实三元组（主语-关系-宾语）。

规则：
1. 只提取明确的事实，不要推测
2. 主语和宾语应该是具体的实体（人名、物品、地点等）
3. 关系应该简洁（如：喜欢、是、有、住在、叫做、认识）
4. 如果有否定，在关系前加"不"
5. 如果有程度副词（很、非常、有时），放在 metadata 中

输出格式（每行一条）：
[TRIPLE] 主语 | 关系 | 宾语 | metadata_json

示例输入：
主人说他很喜欢吃拉面，但不喜欢放香菜

示例输出：
[TRIPLE] 主人 | 喜欢 | 拉面 | {"frequency": "很"}
[TRIPLE] 主人 | 不喜欢 | 香菜 | {}

如果没有可提取的事实，输出：
[SKIP]

待提取文本：
%s`

const extractionSystem = "你是一个精确的信息抽取助手。只输出格式化结果，不要解释。"

// Extractor extracts triples from memory text via the generate capability.
type Extractor struct {
	gen llm.Generator
}

// NewExtractor builds an extractor over gen.
func NewExtractor(gen llm.Generator) *Extractor {
	return &Extractor{gen: gen}
}

// Extract asks the generator for triples in text. Texts too short to carry a
// fact are skipped without a model call. Generation failures return an empty
// result, not an error: extraction is best-effort by design.
func (e *Extractor) Extract(ctx context.Context, text string) []Candidate {
	if len(strings.TrimSpace(text)) < 5 {
		return nil
	}

	resp, err := e.gen.Generate(ctx, extractionSystem, fmt.Sprintf(extractionPrompt, text))
	if err != nil {
		log.Printf("[EXTRACT] Generation failed: %v", err)
		return nil
	}
	return ParseCandidates(resp)
}

// ParseCandidates parses the [TRIPLE] line protocol out of a model response.
// Malformed lines are dropped. A leading "不" on a predicate is folded into
// negation metadata.
func ParseCandidates(response string) []Candidate {
	var out []Candidate
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[TRIPLE]") {
			continue
		}
		parts := strings.Split(strings.TrimSpace(line[len("[TRIPLE]"):]), "|")
		if len(parts) < 3 {
			continue
		}
		subject := strings.TrimSpace(parts[0])
		predicate := strings.TrimSpace(parts[1])
		object := strings.TrimSpace(parts[2])
		if subject == "" || predicate == "" || object == "" {
			continue
		}

		metadata := make(map[string]string)
		if len(parts) >= 4 {
			var raw map[string]any
			if err := json.Unmarshal([]byte(strings.TrimSpace(parts[3])), &raw); err == nil {
				for k, v := range raw {
					metadata[k] = fmt.Sprintf("%v", v)
				}
			}
		}

		if rest, ok := strings.CutPrefix(predicate, "不"); ok && rest != "" {
			metadata["negation"] = "true"
			predicate = rest
		}

		out = append(out, Candidate{
			Subject:   subject,
			Predicate: predicate,
			Object:    object,
			Metadata:  metadata,
		})
	}
	return out
}

var (
	latinWordPattern = regexp.MustCompile(`[A-Za-z]{2,}`)
	honorificPattern = regexp.MustCompile(`[\p{Han}]{2,4}(?:先生|女士|同学|老师|朋友)`)
)

// Entities pulls candidate entity strings out of query text without a model
// call: the configured known names, latin words and Chinese name+honorific
// forms. Results are deduplicated in first-seen order.
func Entities(text string, known []string) []string {
	var found []string
	for _, name := range known {
		if strings.Contains(text, name) {
			found = append(found, name)
		}
	}
	found = append(found, latinWordPattern.FindAllString(text, -1)...)
	found = append(found, honorificPattern.FindAllString(text, -1)...)

	seen := make(map[string]bool, len(found))
	out := found[:0]
	for _, e := range found {
		if len(e) < 2 || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
