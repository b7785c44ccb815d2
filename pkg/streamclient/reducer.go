package streamclient

import (
	"github.com/AnshulParate2004/ChunkSmith/internal/events"
	"github.com/AnshulParate2004/ChunkSmith/internal/models"
)

// JobView is the client-side rendering state of one ingestion job.
type JobView struct {
	Connected bool
	Status    string
	Step      int
	StepName  string
	Percent   int
	Message   string
	Terminal  bool
	Err       string
	Result    *models.JobResult
}

// ReduceJob folds one progress event into the view. A terminal view
// never changes again, and the percent never moves backward, so
// replayed or out-of-order events cannot make the UI regress.
func ReduceJob(v JobView, ev events.Event) JobView {
	if v.Terminal {
		return v
	}

	switch ev.Type {
	case events.TypeConnected:
		v.Connected = true

	case events.TypeProgress:
		var data events.ProgressData
		if ev.Decode(&data) != nil {
			return v
		}
		v.Status = data.Status
		v.Step = data.Step
		v.StepName = data.StepName
		v.Message = data.Message
		if data.Progress > v.Percent {
			v.Percent = data.Progress
		}

	case events.TypeComplete:
		var data events.CompleteData
		if ev.Decode(&data) != nil {
			return v
		}
		v.Status = data.Status
		v.Percent = 100
		v.Message = data.Message
		v.Result = data.Result
		v.Terminal = true

	case events.TypeError:
		var data events.ErrorData
		if ev.Decode(&data) != nil {
			return v
		}
		v.Err = data.Message
		v.Terminal = true
	}
	return v
}

// TurnView is the client-side rendering state of one assistant turn.
type TurnView struct {
	Connected  bool
	Searching  bool
	ChunkCount int
	Sources    []string
	Images     []string
	Writing    bool
	Text       string
	Complete   bool
	Done       bool
	Err        string
}

// ReduceTurn folds one chat event into the view. Once the turn's
// complete event lands the answer is fixed; stray image or content
// events after it are ignored.
func ReduceTurn(v TurnView, ev events.Event) TurnView {
	if v.Done {
		return v
	}

	switch ev.Type {
	case events.TypeConnected:
		v.Connected = true

	case events.TypeSearchStart:
		v.Searching = true

	case events.TypeSearchComplete:
		var data events.SearchCompleteData
		if ev.Decode(&data) != nil {
			return v
		}
		v.Searching = false
		v.ChunkCount = data.ChunkCount
		v.Sources = data.Sources

	case events.TypeImage:
		if v.Complete {
			return v
		}
		var data events.ImageData
		if ev.Decode(&data) != nil {
			return v
		}
		v.Images = append(v.Images, data.Filename)

	case events.TypeImagesFound:
		// count is derivable from the image events themselves

	case events.TypeResponseStart:
		v.Writing = true

	case events.TypeContent:
		if v.Complete {
			return v
		}
		var data events.ContentData
		if ev.Decode(&data) != nil {
			return v
		}
		v.Text += data.Text

	case events.TypeChatComplete:
		var data events.ChatCompleteData
		if ev.Decode(&data) != nil {
			return v
		}
		v.Writing = false
		v.Complete = true
		if data.Message != "" {
			v.Text = data.Message
		}

	case events.TypeEnd:
		v.Done = true

	case events.TypeError:
		var data events.ErrorData
		if ev.Decode(&data) != nil {
			return v
		}
		v.Err = data.Message
		v.Writing = false
		v.Done = true
	}
	return v
}
