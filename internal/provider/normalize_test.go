package provider

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want PollResult
	}{
		{
			name: "results array with backtick-wrapped url",
			raw: `{"code":0,"msg":"success","data":{"id":"x","results":[{"url":" ` + "`https://example.com/example.png`" + ` ","content":"a cat on grass"}],"progress":100,"status":"succeeded","failure_reason":"","error":""}}`,
			want: PollResult{Status: StatusCompleted, ResultImageURL: "https://example.com/example.png", Description: "a cat on grass", Progress: 100},
		},
		{
			name: "legacy imageUrl",
			raw:  `{"code":0,"data":{"status":"succeeded","imageUrl":"https://example.com/legacy.png","progress":100}}`,
			want: PollResult{Status: StatusCompleted, ResultImageURL: "https://example.com/legacy.png", Progress: 100},
		},
		{
			name: "legacy images array",
			raw:  `{"code":0,"data":{"status":1,"images":["https://example.com/array.png"]}}`,
			want: PollResult{Status: StatusCompleted, ResultImageURL: "https://example.com/array.png", Progress: 100},
		},
		{
			name: "generic result used as url",
			raw:  `{"data":{"status":"SUCCESS","result":"https://example.com/r.png"}}`,
			want: PollResult{Status: StatusCompleted, ResultImageURL: "https://example.com/r.png", Progress: 100},
		},
		{
			name: "generic result becomes description when an image exists",
			raw:  `{"data":{"status":"succeeded","imageUrl":"https://example.com/i.png","result":"looks great"}}`,
			want: PollResult{Status: StatusCompleted, ResultImageURL: "https://example.com/i.png", Description: "looks great", Progress: 100},
		},
		{
			name: "top-level status",
			raw:  `{"status":"succeeded","data":{"imageUrl":"https://example.com/top.png"}}`,
			want: PollResult{Status: StatusCompleted, ResultImageURL: "https://example.com/top.png", Progress: 100},
		},
		{
			name: "still running with progress",
			raw:  `{"code":0,"data":{"status":"running","progress":42}}`,
			want: PollResult{Status: StatusProcessing, Progress: 42},
		},
		{
			name: "numeric zero is processing",
			raw:  `{"code":0,"data":{"status":0}}`,
			want: PollResult{Status: StatusProcessing},
		},
		{
			name: "failure reason",
			raw:  `{"code":0,"data":{"status":"failed","failure_reason":"GPU error","progress":0},"msg":"success"}`,
			want: PollResult{Status: StatusFailed, Error: "GPU error"},
		},
		{
			name: "failure falls back to error then msg",
			raw:  `{"msg":"quota exceeded","data":{"status":-1}}`,
			want: PollResult{Status: StatusFailed, Error: "quota exceeded"},
		},
		{
			name: "failure without any reason",
			raw:  `{"data":{"status":"FAILED"}}`,
			want: PollResult{Status: StatusFailed, Error: msgUnknownFailure},
		},
		{
			name: "success without image is failed",
			raw:  `{"data":{"status":"succeeded","progress":100}}`,
			want: PollResult{Status: StatusFailed, Error: msgNoImage, Progress: 100},
		},
		{
			name: "undecodable body is failed",
			raw:  `<html>bad gateway</html>`,
			want: PollResult{Status: StatusFailed, Error: msgMalformed},
		},
		{
			name: "no status at all is processing",
			raw:  `{"code":0,"data":{}}`,
			want: PollResult{Status: StatusProcessing},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize([]byte(tc.raw))
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if *got != tc.want {
				t.Errorf("got %+v, want %+v", *got, tc.want)
			}
		})
	}
}
