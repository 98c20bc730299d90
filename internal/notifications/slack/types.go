package slack

type apiResult interface {
	result() *apiResponse
}

type apiResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

func (r *apiResponse) result() *apiResponse { return r }

type responseMetadata struct {
	NextCursor string `json:"next_cursor"`
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

type postMessageResponse struct {
	apiResponse
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

type conversationsListResponse struct {
	apiResponse
	Channels []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"channels"`
	Metadata responseMetadata `json:"response_metadata"`
}

type usersListResponse struct {
	apiResponse
	Members []member         `json:"members"`
	Metadata responseMetadata `json:"response_metadata"`
}

type member struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
	Profile struct {
		DisplayName string `json:"display_name"`
		RealName    string `json:"real_name"`
	} `json:"profile"`
}

type reactionsGetResponse struct {
	apiResponse
	Message struct {
		Reactions []struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		} `json:"reactions"`
	} `json:"message"`
}
