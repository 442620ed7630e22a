package chunker

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/archon-ai/pathways/errors"
)

// splitHTML divides markup into chunks of whole top-level body children.
//
// Children are greedily packed until the next one would exceed the budget. An
// element larger than the budget is an input error: splitting inside an
// element could produce invalid markup. Oversized bare text nodes are
// delegated to the plain-text splitter.
func (c *Chunker) splitHTML(text string, maxTokens int) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return nil, errors.New("chunker", "splitHTML",
			fmt.Errorf("failed to parse HTML: %w", err)).WithKind(errors.KindInput)
	}

	body := findBody(doc)
	if body == nil {
		return []string{text}, nil
	}

	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for child := body.FirstChild; child != nil; child = child.NextSibling {
		rendered, err := renderNode(child)
		if err != nil {
			return nil, fmt.Errorf("failed to render node: %w", err)
		}
		if rendered == "" {
			continue
		}

		n, err := c.count(rendered)
		if err != nil {
			return nil, fmt.Errorf("failed to count tokens: %w", err)
		}

		if n > maxTokens {
			if child.Type == html.TextNode {
				// Bare text between elements can be split safely.
				flush()
				sub, err := c.splitText(rendered, maxTokens)
				if err != nil {
					return nil, err
				}
				chunks = append(chunks, sub...)
				continue
			}
			return nil, errors.New("chunker", "splitHTML", ErrElementTooLarge).
				WithKind(errors.KindInput).
				WithDetails(map[string]any{"element": child.Data, "tokens": n})
		}

		if currentTokens+n > maxTokens {
			flush()
		}
		current.WriteString(rendered)
		currentTokens += n
	}
	flush()

	if len(chunks) == 0 {
		return []string{""}, nil
	}
	return chunks, nil
}

// findBody locates the body element in a parsed document.
func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if body := findBody(child); body != nil {
			return body
		}
	}
	return nil
}

// renderNode serializes a node back to markup.
func renderNode(n *html.Node) (string, error) {
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return "", err
	}
	return sb.String(), nil
}
