package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/coursegen/internal/errors"
)

// fakeSandbox builds a client whose sandbox is a shell one-liner that
// swallows stdin and prints the given envelope.
func fakeSandbox(t *testing.T, envelope string) *ExecClient {
	t.Helper()
	return NewExecClient(
		[]string{"sh", "-c", "cat >/dev/null; printf '%s' " + shellQuote(envelope)},
		10*time.Second, nil,
	)
}

func shellQuote(s string) string {
	return "'" + s + "'"
}

func TestExecClientRendersContent(t *testing.T) {
	client := fakeSandbox(t, `{"ok":true,"result":{"content":"<p>hi</p>","links":["/course/demo/"]}}`)

	result, err := client.Render(context.Background(), Task{
		Kind: TaskCoursePage, Repo: "https://example.com/fork", CourseSlug: "2026/demo",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Content)
	assert.Equal(t, "<p>hi</p>", *result.Content)
	assert.Equal(t, []string{"/course/demo/"}, result.Links)
}

func TestExecClientHonoredOffer(t *testing.T) {
	client := fakeSandbox(t, `{"ok":true,"result":{"content":null}}`)

	result, err := client.Render(context.Background(), Task{
		Kind:       TaskCoursePage,
		CourseSlug: "2026/demo",
		Offer:      &ContentOffer{Fingerprint: "commit:abc:content:def"},
	})
	require.NoError(t, err)
	assert.Nil(t, result.Content)
}

func TestExecClientRequiresContentWithoutOffer(t *testing.T) {
	client := fakeSandbox(t, `{"ok":true,"result":{"content":null}}`)

	_, err := client.Render(context.Background(), Task{Kind: TaskCoursePage, CourseSlug: "2026/demo"})
	require.Error(t, err)
	assert.Equal(t, errors.KindBuild, errors.KindOf(err))
}

func TestExecClientCourseInfo(t *testing.T) {
	client := fakeSandbox(t, `{"ok":true,"result":{"course":{"title":"Fork","description":"d","start_date":"2026-03-05"}}}`)

	result, err := client.Render(context.Background(), Task{Kind: TaskCourseInfo, CourseSlug: "2026/demo"})
	require.NoError(t, err)
	require.NotNil(t, result.Course)
	assert.Equal(t, "Fork", result.Course.Title)
	assert.Equal(t, "2026-03-05", result.Course.StartDate)
}

func TestExecClientMapsFailureKinds(t *testing.T) {
	cases := []struct {
		reported string
		want     errors.Kind
	}{
		{"pull", errors.KindPull},
		{"dependency", errors.KindDependency},
		{"not_found", errors.KindNotFound},
		{"policy", errors.KindPolicy},
		{"circular", errors.KindCircular},
		{"build", errors.KindBuild},
		{"something-new", errors.KindBuild},
	}

	for _, tc := range cases {
		t.Run(tc.reported, func(t *testing.T) {
			client := fakeSandbox(t, `{"ok":false,"error":{"kind":"`+tc.reported+`","message":"boom"}}`)

			_, err := client.Render(context.Background(), Task{Kind: TaskCoursePage, CourseSlug: "2026/demo"})
			require.Error(t, err)
			assert.Equal(t, tc.want, errors.KindOf(err))
		})
	}
}

func TestExecClientRejectsForeignLinks(t *testing.T) {
	for _, link := range []string{"https://evil.example/x", "../escape", "/ok/../sneaky"} {
		client := fakeSandbox(t, `{"ok":true,"result":{"content":"x","links":["`+link+`"]}}`)

		_, err := client.Render(context.Background(), Task{Kind: TaskCoursePage, CourseSlug: "2026/demo"})
		require.Error(t, err, "link %q must be rejected", link)
		assert.Equal(t, errors.KindPolicy, errors.KindOf(err))
	}
}

func TestExecClientMalformedResponse(t *testing.T) {
	client := fakeSandbox(t, `this is not json`)

	_, err := client.Render(context.Background(), Task{Kind: TaskCoursePage, CourseSlug: "2026/demo"})
	require.Error(t, err)
	assert.Equal(t, errors.KindBuild, errors.KindOf(err))
}

func TestExecClientProcessFailure(t *testing.T) {
	client := NewExecClient([]string{"sh", "-c", "echo doomed >&2; exit 3"}, 10*time.Second, nil)

	_, err := client.Render(context.Background(), Task{Kind: TaskCoursePage, CourseSlug: "2026/demo"})
	require.Error(t, err)
	assert.Equal(t, errors.KindBuild, errors.KindOf(err))
	assert.Contains(t, err.Error(), "doomed")
}

func TestExecClientTimeout(t *testing.T) {
	client := NewExecClient([]string{"sleep", "10"}, 50*time.Millisecond, nil)

	start := time.Now()
	_, err := client.Render(context.Background(), Task{Kind: TaskCoursePage, CourseSlug: "2026/demo"})
	require.Error(t, err)
	assert.Equal(t, errors.KindBuild, errors.KindOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}
