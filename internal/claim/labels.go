package claim

import "fmt"

// NumClasses is the number of claim types the classifier distinguishes.
const NumClasses = 8

// Labels maps class id to claim type, in the order the model was fit on.
var Labels = [NumClasses]string{
	"CANCELLED",
	"NON-COMP",
	"MED ONLY",
	"TEMPORARY",
	"PPD SCH LOSS",
	"PPD NSL",
	"PTD",
	"DEATH",
}

// Label returns the claim type for a class id.
func Label(id int) (string, error) {
	if id < 0 || id >= NumClasses {
		return "", fmt.Errorf("class id %d out of range [0,%d)", id, NumClasses)
	}
	return Labels[id], nil
}
