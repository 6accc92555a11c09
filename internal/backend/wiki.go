package backend

import "context"

type wikiArticlesBody struct {
	Question string `json:"question"`
	Model    string `json:"llm_model"`
}

type wikiAddBody struct {
	PageTitle string `json:"page_title"`
	Question  string `json:"question"`
	Model     string `json:"llm_model"`
}

// WikiArticles suggests wiki page titles the given answer text could extend.
func (c *Client) WikiArticles(ctx context.Context, question, model string) ([]string, error) {
	var out []string
	err := c.postJSON(ctx, "wiki articles", "/get_articles_from_wiki",
		wikiArticlesBody{Question: question, Model: model}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddToWiki appends the answer text to the named wiki page.
func (c *Client) AddToWiki(ctx context.Context, pageTitle, question, model string) (string, error) {
	var out messageResponse
	err := c.postJSON(ctx, "wiki add", "/add_answer_to_wiki",
		wikiAddBody{PageTitle: pageTitle, Question: question, Model: model}, &out)
	if err != nil {
		return "", err
	}
	return out.Message, nil
}
