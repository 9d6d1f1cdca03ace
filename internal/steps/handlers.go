package steps

import (
	"context"

	"github.com/xkilldash9x/extraction-cli/internal/browser"
	"github.com/xkilldash9x/extraction-cli/internal/reportconfig"
)

// selectResponsabilite opens the responsibility list, picks the second entry
// down and confirms.
func (in *Interpreter) selectResponsabilite(ctx context.Context, s Surface, step reportconfig.Step) error {
	imgs, err := images(step, 2)
	if err != nil {
		return err
	}
	if err := clickWhenVisible(ctx, s, imgs[0], step.Name+labelStart); err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	if err := s.UI.Press(ctx, browser.KeyDown, browser.KeyDown); err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name+labelEnd)
	if err := s.UI.Press(ctx, browser.KeyEnter); err != nil {
		return err
	}
	return clickWhenVisible(ctx, s, imgs[1], "")
}

func (in *Interpreter) acceptOptional(ctx context.Context, s Surface, step reportconfig.Step) error {
	imgs, err := images(step, 2)
	if err != nil {
		return err
	}
	if err := clickWhenVisible(ctx, s, imgs[0], step.Name+labelStart); err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name)
	return clickWhenVisible(ctx, s, imgs[1], step.Name+labelEnd)
}

// browse walks the navigator: open the menu, pick the entry below the
// second target, then open the third.
func (in *Interpreter) browse(ctx context.Context, s Surface, step reportconfig.Step) error {
	imgs, err := images(step, 3)
	if err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	if err := clickWhenVisible(ctx, s, imgs[0], step.Name+labelStart); err != nil {
		return err
	}
	if err := in.sleep(ctx, 2*in.settings.MinSleep); err != nil {
		return err
	}
	if err := clickWhenVisible(ctx, s, imgs[1], ""); err != nil {
		return err
	}
	if err := s.UI.Press(ctx, browser.KeyDown, browser.KeyEnter); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name)
	if err := in.pause(ctx); err != nil {
		return err
	}
	if err := clickWhenVisible(ctx, s, imgs[2], ""); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name+labelEnd)
	return s.UI.Press(ctx, browser.KeyEnter)
}

// selectPeriode types the period into the field right of the label.
func (in *Interpreter) selectPeriode(ctx context.Context, s Surface, step reportconfig.Step) error {
	imgs, err := images(step, 1)
	if err != nil {
		return err
	}
	period, err := in.period(step)
	if err != nil {
		return err
	}

	p, err := s.Oracle.WaitFor(ctx, imgs[0])
	if err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name+labelStart)
	if err := s.UI.Click(ctx, p.X+200, p.Y); err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	if err := s.UI.Type(ctx, period); err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name+"1")
	if err := s.UI.Press(ctx, browser.KeyEnter); err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name+labelEnd)
	return nil
}

// wait blocks until the busy indicator shows up and goes away again.
func (in *Interpreter) wait(ctx context.Context, s Surface, step reportconfig.Step) error {
	imgs, err := images(step, 1)
	if err != nil {
		return err
	}
	if _, err := s.Oracle.WaitFor(ctx, imgs[0]); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name)
	return s.Oracle.WaitToDisappear(ctx, imgs[0], keepAlive(s))
}

func (in *Interpreter) longWait(ctx context.Context, s Surface, step reportconfig.Step) error {
	imgs, err := images(step, 1)
	if err != nil {
		return err
	}
	if err := in.sleep(ctx, in.settings.MaxSleep); err != nil {
		return err
	}
	if _, err := s.Oracle.LongWaitFor(ctx, imgs[0]); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name+"1")
	return in.pause(ctx)
}

// waitLargeQuery waits out a running query. With confirm set, the "run large
// query" prompt (images[1]) is accepted first when it shows up.
func (in *Interpreter) waitLargeQuery(ctx context.Context, s Surface, step reportconfig.Step, confirm bool) error {
	n := 1
	if confirm {
		n = 2
	}
	imgs, err := images(step, n)
	if err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	if confirm {
		if p, ok := s.Oracle.Exists(ctx, imgs[1]); ok {
			if err := s.UI.Click(ctx, p.X, p.Y); err != nil {
				return err
			}
			if err := in.pause(ctx); err != nil {
				return err
			}
		}
	}
	if _, err := s.Oracle.WaitFor(ctx, imgs[0]); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name+"1")
	return s.Oracle.WaitToDisappear(ctx, imgs[0], keepAlive(s))
}

// extract exports the result set: images 0-2 open the export dialog, 3 is
// the file name field, 4 saves, 5 is an optional confirmation and 6 closes.
func (in *Interpreter) extract(ctx context.Context, s Surface, step reportconfig.Step) error {
	imgs, err := images(step, 7)
	if err != nil {
		return err
	}
	dest, err := in.Destination(step)
	if err != nil {
		return err
	}

	if err := in.sleep(ctx, in.settings.MaxSleep); err != nil {
		return err
	}
	p, err := s.Oracle.LongWaitFor(ctx, imgs[0])
	if err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name+labelStart)
	if err := s.UI.Click(ctx, p.X, p.Y); err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}

	if err := in.clickThenPause(ctx, s, imgs[1], step.Name+"1"); err != nil {
		return err
	}
	if err := in.clickThenPause(ctx, s, imgs[2], step.Name+"2"); err != nil {
		return err
	}
	if err := in.clickThenPause(ctx, s, imgs[3], step.Name+"3"); err != nil {
		return err
	}
	if err := s.UI.Type(ctx, dest); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name+"4")
	if err := in.pause(ctx); err != nil {
		return err
	}
	if err := in.clickThenPause(ctx, s, imgs[4], step.Name+"5"); err != nil {
		return err
	}

	p, found := s.Oracle.Exists(ctx, imgs[5])
	s.Auditor.Capture(ctx, step.Name+"6")
	if found {
		if err := s.UI.Click(ctx, p.X, p.Y); err != nil {
			return err
		}
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	if err := in.clickThenPause(ctx, s, imgs[6], step.Name+"7"); err != nil {
		return err
	}
	if err := clickIfPresent(ctx, s, imgs[5]); err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name+labelEnd)
	return nil
}

// extractIC01 is the export flow of the IC01 report, whose dialog needs the
// format option (images[2]) confirmed twice after saving.
func (in *Interpreter) extractIC01(ctx context.Context, s Surface, step reportconfig.Step) error {
	imgs, err := images(step, 7)
	if err != nil {
		return err
	}
	dest, err := in.Destination(step)
	if err != nil {
		return err
	}

	if err := in.pause(ctx); err != nil {
		return err
	}
	for _, img := range imgs[:4] {
		if err := in.clickThenPause(ctx, s, img, ""); err != nil {
			return err
		}
	}
	if err := s.UI.Type(ctx, dest); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name)
	if err := in.pause(ctx); err != nil {
		return err
	}
	if err := in.clickThenPause(ctx, s, imgs[4], ""); err != nil {
		return err
	}
	if err := clickIfPresent(ctx, s, imgs[5]); err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	for _, img := range []string{imgs[2], imgs[2], imgs[6]} {
		if err := in.clickThenPause(ctx, s, img, step.Name); err != nil {
			return err
		}
	}
	if err := clickIfPresent(ctx, s, imgs[5]); err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name)
	return nil
}

// download saves the generated file and closes the viewer windows.
func (in *Interpreter) download(ctx context.Context, s Surface, step reportconfig.Step) error {
	imgs, err := images(step, 2)
	if err != nil {
		return err
	}
	if err := in.sleep(ctx, 2*in.settings.MinSleep); err != nil {
		return err
	}
	if err := clickWhenVisible(ctx, s, imgs[0], step.Name+labelStart); err != nil {
		return err
	}
	if err := in.sleep(ctx, 2*in.settings.MinSleep); err != nil {
		return err
	}
	if err := clickWhenVisible(ctx, s, imgs[1], step.Name+labelEnd); err != nil {
		return err
	}
	if err := in.sleep(ctx, 2*in.settings.MinSleep); err != nil {
		return err
	}
	if err := s.UI.Hotkey(ctx, browser.ModAlt, browser.KeyF4); err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	return s.UI.Hotkey(ctx, browser.ModAlt, browser.KeyF4)
}

// conditions fills the period condition of a query: open the conditions
// panel, focus the value cell four tabs over and type the quoted period.
func (in *Interpreter) conditions(ctx context.Context, s Surface, step reportconfig.Step) error {
	imgs, err := images(step, 3)
	if err != nil {
		return err
	}
	period, err := in.period(step)
	if err != nil {
		return err
	}

	if err := in.clickThenPause(ctx, s, imgs[0], step.Name+labelStart); err != nil {
		return err
	}
	p, err := s.Oracle.WaitFor(ctx, imgs[1])
	if err != nil {
		return err
	}
	if err := s.UI.DoubleClick(ctx, p.X, p.Y); err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	for range 4 {
		if err := s.UI.Press(ctx, browser.KeyTab); err != nil {
			return err
		}
		if err := in.pause(ctx); err != nil {
			return err
		}
	}
	if err := s.UI.Type(ctx, "'"+period+"'"); err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name+"_dev")
	if err := s.UI.Press(ctx, browser.KeyEnter); err != nil {
		return err
	}
	if err := in.sleep(ctx, 2*in.settings.MinSleep); err != nil {
		return err
	}
	if err := clickIfPresent(ctx, s, imgs[2]); err != nil {
		return err
	}
	if err := in.pause(ctx); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name+labelEnd)
	return nil
}

// clickThenPause waits for img, audits label when set, clicks it and pauses.
func (in *Interpreter) clickThenPause(ctx context.Context, s Surface, img, label string) error {
	if err := clickWhenVisible(ctx, s, img, label); err != nil {
		return err
	}
	return in.pause(ctx)
}
